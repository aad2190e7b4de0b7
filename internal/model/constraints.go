package model

// Domain constants shared across workflow, storage, and handler packages.
const (
	DateLayout           = "2006-01-02"
	PartitionDateLayout  = "2006/01/02"
	DefaultAuditPrefix   = "firehose"
	MaxQueueDelaySeconds = 900 // SQS upper bound

	RestorePollDelaySeconds = 900
	CopyPollDelaySeconds    = 30
	MaxRestorePolls         = 484 // ~5 days at the restore cadence
	MaxCopyPolls            = 60  // 30 minutes at the copy cadence

	RequestRecordTTLHours  = 120
	DownloadRecordTTLHours = 72
	DownloadHashBytes      = 32
)

// Storage classes reported by the object store.
const (
	StorageClassStandard    = "STANDARD"
	StorageClassGlacier     = "GLACIER"
	StorageClassDeepArchive = "DEEP_ARCHIVE"
)

// IsArchivalStorageClass reports whether objects in the class need a restore
// job before they can be read.
func IsArchivalStorageClass(class string) bool {
	return class == StorageClassGlacier || class == StorageClassDeepArchive
}
