package types

const (
	HeaderRequestID = "X-Request-ID"
	HeaderOrgID     = "X-Org-ID"
)
