package jobs

import "fmt"

// QueueName identifies a queue. Each queue has its own worker pool.
type QueueName string

const (
	QueueThumbnailGeneration QueueName = "thumbnailGeneration"
	QueueMetadataExtraction  QueueName = "metadataExtraction"
	QueueVideoConversion     QueueName = "videoConversion"
	QueueObjectTagging       QueueName = "objectTagging"
	QueueRecognizeFaces      QueueName = "recognizeFaces"
	QueueClipEncoding        QueueName = "clipEncoding"
	QueueBackgroundTask      QueueName = "backgroundTask"
	QueueMigration           QueueName = "migration"
	QueueStorageTemplate     QueueName = "storageTemplateMigration"
	QueueSidecar             QueueName = "sidecar"
	QueueLibrary             QueueName = "library"
)

// AllQueues lists every queue in display order.
var AllQueues = []QueueName{
	QueueThumbnailGeneration,
	QueueMetadataExtraction,
	QueueVideoConversion,
	QueueObjectTagging,
	QueueRecognizeFaces,
	QueueClipEncoding,
	QueueBackgroundTask,
	QueueMigration,
	QueueStorageTemplate,
	QueueSidecar,
	QueueLibrary,
}

// ParseQueue validates a queue name from user input.
func ParseQueue(s string) (QueueName, error) {
	for _, q := range AllQueues {
		if string(q) == s {
			return q, nil
		}
	}
	return "", fmt.Errorf("unknown queue %q", s)
}

// Name identifies a job type.
type Name string

const (
	// thumbnails
	NameQueueGenerateThumbnails Name = "queue-generate-thumbnails"
	NameGenerateJPEGThumbnail   Name = "generate-jpeg-thumbnail"
	NameGenerateWEBPThumbnail   Name = "generate-webp-thumbnail"
	NameGenerateThumbhash       Name = "generate-thumbhash-thumbnail"
	NameGeneratePersonThumbnail Name = "generate-person-thumbnail"

	// video
	NameQueueVideoConversion Name = "queue-video-conversion"
	NameVideoConversion      Name = "video-conversion"

	// metadata
	NameQueueMetadataExtraction Name = "queue-metadata-extraction"
	NameMetadataExtraction      Name = "metadata-extraction"

	// derived file migration
	NameQueueMigration Name = "queue-migration"
	NameMigrateAsset   Name = "migrate-asset"
	NameMigratePerson  Name = "migrate-person"

	// originals following the storage template
	NameQueueStorageTemplateMigration Name = "storage-template-migration"
	NameStorageTemplateMigration      Name = "storage-template-migration-single"

	// machine learning
	NameQueueObjectTagging  Name = "queue-object-tagging"
	NameClassifyImage       Name = "classify-image"
	NameQueueClipEncode     Name = "queue-clip-encode"
	NameClipEncode          Name = "clip-encode"
	NameQueueRecognizeFaces Name = "queue-recognize-faces"
	NameRecognizeFaces      Name = "recognize-faces"

	// sidecars
	NameQueueSidecar     Name = "queue-sidecar"
	NameSidecarDiscovery Name = "sidecar-discovery"
	NameSidecarSync      Name = "sidecar-sync"

	// external libraries
	NameLibraryRefresh      Name = "library-refresh"
	NameLibraryRefreshAsset Name = "library-refresh-asset"

	// background tasks
	NameDeleteFiles        Name = "delete-files"
	NamePersonCleanup      Name = "person-cleanup"
	NameSystemConfigChange Name = "system-config-change"
)

var catalog = map[Name]QueueName{
	NameQueueGenerateThumbnails: QueueThumbnailGeneration,
	NameGenerateJPEGThumbnail:   QueueThumbnailGeneration,
	NameGenerateWEBPThumbnail:   QueueThumbnailGeneration,
	NameGenerateThumbhash:       QueueThumbnailGeneration,
	NameGeneratePersonThumbnail: QueueThumbnailGeneration,

	NameQueueVideoConversion: QueueVideoConversion,
	NameVideoConversion:      QueueVideoConversion,

	NameQueueMetadataExtraction: QueueMetadataExtraction,
	NameMetadataExtraction:      QueueMetadataExtraction,

	NameQueueMigration: QueueMigration,
	NameMigrateAsset:   QueueMigration,
	NameMigratePerson:  QueueMigration,

	NameQueueStorageTemplateMigration: QueueStorageTemplate,
	NameStorageTemplateMigration:      QueueStorageTemplate,

	NameQueueObjectTagging:  QueueObjectTagging,
	NameClassifyImage:       QueueObjectTagging,
	NameQueueClipEncode:     QueueClipEncoding,
	NameClipEncode:          QueueClipEncoding,
	NameQueueRecognizeFaces: QueueRecognizeFaces,
	NameRecognizeFaces:      QueueRecognizeFaces,

	NameQueueSidecar:     QueueSidecar,
	NameSidecarDiscovery: QueueSidecar,
	NameSidecarSync:      QueueSidecar,

	NameLibraryRefresh:      QueueLibrary,
	NameLibraryRefreshAsset: QueueLibrary,

	NameDeleteFiles:        QueueBackgroundTask,
	NamePersonCleanup:      QueueBackgroundTask,
	NameSystemConfigChange: QueueBackgroundTask,
}

// QueueFor returns the queue a job name belongs to.
func QueueFor(name Name) (QueueName, bool) {
	q, ok := catalog[name]
	return q, ok
}

// AllNames returns every declared job name.
func AllNames() []Name {
	names := make([]Name, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	return names
}
