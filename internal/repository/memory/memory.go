package memory

import "clinicnotes/internal/repository"

var (
	_ repository.NoteRepository     = (*NoteRepository)(nil)
	_ repository.VersionRepository  = (*VersionRepository)(nil)
	_ repository.LedgerRepository   = (*LedgerRepository)(nil)
	_ repository.SnapshotRepository = (*SnapshotRepository)(nil)
)
