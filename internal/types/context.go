package types

import "context"

type ContextKey string

const (
	CtxRequestID ContextKey = "ctx_request_id"
	CtxOrgID     ContextKey = "ctx_org_id"
	CtxBatchID   ContextKey = "ctx_batch_id"
)

func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(CtxRequestID).(string); ok {
		return requestID
	}
	return ""
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, CtxRequestID, requestID)
}

func GetOrgID(ctx context.Context) string {
	if orgID, ok := ctx.Value(CtxOrgID).(string); ok {
		return orgID
	}
	return ""
}

func SetOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, CtxOrgID, orgID)
}

func GetBatchID(ctx context.Context) string {
	if batchID, ok := ctx.Value(CtxBatchID).(string); ok {
		return batchID
	}
	return ""
}

func SetBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, CtxBatchID, batchID)
}
