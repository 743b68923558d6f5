package order

import "github.com/go-faster/jx"

// creationMetadata builds the JSON audit document stored with the creation
// status-history row.
func creationMetadata(o *Order, couponSummary string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("source", func(e *jx.Encoder) { e.Str(string(o.Source)) })
		e.Field("items", func(e *jx.Encoder) { e.Int(len(o.Items)) })
		if couponSummary != "" {
			e.Field("coupon", func(e *jx.Encoder) { e.Str(couponSummary) })
		}
		if o.ClientIP != "" {
			e.Field("client_ip", func(e *jx.Encoder) { e.Str(o.ClientIP) })
		}
		if o.UserAgent != "" {
			e.Field("user_agent", func(e *jx.Encoder) { e.Str(o.UserAgent) })
		}
		if o.Referrer != "" {
			e.Field("referrer", func(e *jx.Encoder) { e.Str(o.Referrer) })
		}
	})
	return e.Bytes()
}
