package jobs

// Job is a unit of work. Its concrete type fixes the job name, and through
// the catalog, the queue. Payloads carry ids only, never entity snapshots.
type Job interface {
	Name() Name
}

// ForceJob is the payload of the "queue everything" producers.
type ForceJob struct {
	Force bool `json:"force,omitempty"`
}

// EntityJob is the payload of per-entity jobs. Force regenerates output
// that already exists.
type EntityJob struct {
	ID     string `json:"id"`
	Source string `json:"source,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// SourceUpload marks jobs triggered by a new upload; they start the
// thumbnail chain when done.
const SourceUpload = "upload"

type (
	QueueAllThumbnails      ForceJob
	GenerateJPEGThumbnail   EntityJob
	GenerateWEBPThumbnail   EntityJob
	GenerateThumbhash       EntityJob
	GeneratePersonThumbnail EntityJob

	QueueAllVideoConversion ForceJob
	VideoConversion         EntityJob

	QueueAllMetadataExtraction ForceJob
	MetadataExtraction         EntityJob

	QueueAllMigration struct{}
	MigrateAsset      EntityJob
	MigratePerson     EntityJob

	QueueAllStorageTemplateMigration struct{}
	StorageTemplateMigration         EntityJob

	QueueAllObjectTagging  ForceJob
	ClassifyImage          EntityJob
	QueueAllClipEncode     ForceJob
	ClipEncode             EntityJob
	QueueAllRecognizeFaces ForceJob
	RecognizeFaces         EntityJob

	QueueAllSidecar  ForceJob
	SidecarDiscovery EntityJob
	SidecarSync      EntityJob

	PersonCleanup      struct{}
	SystemConfigChange struct{}
)

// LibraryRefresh scans an external library directory for an owner.
type LibraryRefresh struct {
	OwnerID string `json:"ownerId"`
	Path    string `json:"path"`
	Force   bool   `json:"force,omitempty"`
}

// LibraryRefreshAsset imports or refreshes one file of an external library.
type LibraryRefreshAsset struct {
	OwnerID string `json:"ownerId"`
	Path    string `json:"path"`
}

// DeleteFiles removes files from disk.
type DeleteFiles struct {
	Files []string `json:"files"`
}

func (QueueAllThumbnails) Name() Name         { return NameQueueGenerateThumbnails }
func (GenerateJPEGThumbnail) Name() Name      { return NameGenerateJPEGThumbnail }
func (GenerateWEBPThumbnail) Name() Name      { return NameGenerateWEBPThumbnail }
func (GenerateThumbhash) Name() Name          { return NameGenerateThumbhash }
func (GeneratePersonThumbnail) Name() Name    { return NameGeneratePersonThumbnail }
func (QueueAllVideoConversion) Name() Name    { return NameQueueVideoConversion }
func (VideoConversion) Name() Name            { return NameVideoConversion }
func (QueueAllMetadataExtraction) Name() Name { return NameQueueMetadataExtraction }
func (MetadataExtraction) Name() Name         { return NameMetadataExtraction }
func (QueueAllMigration) Name() Name          { return NameQueueMigration }
func (MigrateAsset) Name() Name               { return NameMigrateAsset }
func (MigratePerson) Name() Name              { return NameMigratePerson }
func (QueueAllObjectTagging) Name() Name      { return NameQueueObjectTagging }
func (ClassifyImage) Name() Name              { return NameClassifyImage }
func (QueueAllClipEncode) Name() Name         { return NameQueueClipEncode }
func (ClipEncode) Name() Name                 { return NameClipEncode }
func (QueueAllRecognizeFaces) Name() Name     { return NameQueueRecognizeFaces }
func (RecognizeFaces) Name() Name             { return NameRecognizeFaces }
func (QueueAllSidecar) Name() Name            { return NameQueueSidecar }
func (SidecarDiscovery) Name() Name           { return NameSidecarDiscovery }
func (SidecarSync) Name() Name                { return NameSidecarSync }
func (LibraryRefresh) Name() Name             { return NameLibraryRefresh }
func (LibraryRefreshAsset) Name() Name        { return NameLibraryRefreshAsset }
func (DeleteFiles) Name() Name                { return NameDeleteFiles }
func (PersonCleanup) Name() Name              { return NamePersonCleanup }
func (SystemConfigChange) Name() Name         { return NameSystemConfigChange }

func (QueueAllStorageTemplateMigration) Name() Name { return NameQueueStorageTemplateMigration }
func (StorageTemplateMigration) Name() Name         { return NameStorageTemplateMigration }
