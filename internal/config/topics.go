package config

const (
	// TopicSyncTask is the NSQ topic for CMS synchronization tasks,
	// consumed by the external sync worker.
	TopicSyncTask = "sync.task"

	// TopicSyncResult is the NSQ topic for per-job sync outcomes published
	// back by the external sync worker.
	TopicSyncResult = "sync.result"

	// TopicContentEmbed is the NSQ topic for content embedding tasks.
	TopicContentEmbed = "content.embed"
)
