package services

import "context"

type contextKey string

const (
	datasetKey   contextKey = "dataset"
	cameraKey    contextKey = "camera"
	kindKey      contextKey = "annotation_kind"
	requestIDKey contextKey = "request_id"
)

// WithSource annotates context with the dataset and camera being served.
func WithSource(ctx context.Context, dataset, camera string) context.Context {
	if dataset != "" {
		ctx = context.WithValue(ctx, datasetKey, dataset)
	}
	if camera != "" {
		ctx = context.WithValue(ctx, cameraKey, camera)
	}
	return ctx
}

// DatasetFromContext returns the dataset name if present.
func DatasetFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(datasetKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// CameraFromContext returns the camera identifier if present.
func CameraFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(cameraKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithAnnotationKind annotates context with the annotation kind being edited.
func WithAnnotationKind(ctx context.Context, kind string) context.Context {
	if kind == "" {
		return ctx
	}
	return context.WithValue(ctx, kindKey, kind)
}

// AnnotationKindFromContext returns the annotation kind if present.
func AnnotationKindFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(kindKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
