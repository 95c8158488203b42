package model

// ResourceKind names a path-addressable resource for ownership checks.  The
// values match the path parameter names used by the router, so the ownership
// middleware can map ":webhook_id" directly to KindWebhook.
type ResourceKind string

// Resource kinds that can appear as path parameters.
const (
	KindLayout  ResourceKind = "layout"
	KindElement ResourceKind = "element"
	KindImage   ResourceKind = "image"
	KindText    ResourceKind = "text"
	KindWebhook ResourceKind = "webhook"
)
