package service

import "context"

type sourceKey struct{}

// Image sources reported on recognition events.
const (
	SourceUpload = "upload"
	SourceURL    = "url"
	SourceBase64 = "base64"
	SourceBatch  = "batch"
)

func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func SourceFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sourceKey{}).(string)
	return s
}
