package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clinicnotes/internal/clock"
	"clinicnotes/internal/domain"
	"clinicnotes/internal/logger"
	"clinicnotes/internal/metrics"
	"clinicnotes/internal/repository"
	"clinicnotes/internal/service/s3"
)

const (
	ReasonAutoSaved = "Auto-saved"

	revertReasonFormat = "Reverted to version from %s"
)

type AddVersionInput struct {
	NoteID  string
	Content string
	Author  domain.Actor
	Reason  string
	// ExpectedRevision - ревизия, которую видел клиент; 0 отключает проверку
	ExpectedRevision int64
}

type RevertInput struct {
	NoteID           string
	VersionID        string
	Actor            domain.Actor
	ExpectedRevision int64
}

// VersionStore ведёт историю версий заметки только на добавление.
// Метаданные лежат в репозитории, содержимое - в хранилище блобов.
type VersionStore struct {
	repo    repository.VersionRepository
	blobs   s3.Storage
	clock   clock.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewVersionStore(
	repo repository.VersionRepository,
	blobs s3.Storage,
	clk clock.Clock,
	log zerolog.Logger,
	m *metrics.Metrics,
) *VersionStore {
	return &VersionStore{
		repo:    repo,
		blobs:   blobs,
		clock:   clk,
		log:     logger.Component(log, "version_store"),
		metrics: m,
	}
}

// InitializeHistory создаёт первую (исходную) версию заметки
func (s *VersionStore) InitializeHistory(ctx context.Context, noteID, content string, author domain.Actor) (*domain.Version, error) {
	v, err := s.newVersion(ctx, noteID, content, author, "")
	if err != nil {
		return nil, err
	}
	v.IsPristine = true

	if _, err := s.repo.CreateHistory(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to initialize history: %w", err)
	}

	s.metrics.VersionsCreated.WithLabelValues("pristine").Inc()
	s.log.Debug().Str("note_id", noteID).Str("version_id", v.ID).Msg("version history initialized")
	return v, nil
}

// AddVersion добавляет версию даже если содержимое не изменилось
func (s *VersionStore) AddVersion(ctx context.Context, in AddVersionInput) (*domain.Version, error) {
	v, err := s.newVersion(ctx, in.NoteID, in.Content, in.Author, in.Reason)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.Append(ctx, v, in.ExpectedRevision); err != nil {
		return nil, fmt.Errorf("failed to add version: %w", err)
	}

	s.metrics.VersionsCreated.WithLabelValues(versionKind(in.Reason)).Inc()
	s.log.Debug().
		Str("note_id", in.NoteID).
		Str("version_id", v.ID).
		Int64("number", v.Number).
		Str("reason", in.Reason).
		Msg("version added")
	return v, nil
}

// newVersion записывает содержимое в хранилище блобов и готовит метаданные.
// Блоб пишется до метаданных, поэтому версия никогда не ссылается на пустой ключ.
func (s *VersionStore) newVersion(ctx context.Context, noteID, content string, author domain.Actor, reason string) (*domain.Version, error) {
	v := &domain.Version{
		ID:          uuid.New().String(),
		NoteID:      noteID,
		Content:     content,
		ContentHash: contentHash(content),
		CreatedAt:   s.clock.Now(),
		AuthorID:    author.ID,
		AuthorName:  author.Name,
		Reason:      reason,
	}
	v.ContentKey = versionKey(noteID, v.ID)

	if err := s.blobs.Put(ctx, v.ContentKey, []byte(content)); err != nil {
		return nil, fmt.Errorf("failed to store version content: %w", err)
	}
	return v, nil
}

// GetHistory возвращает версии от новой к старой
func (s *VersionStore) GetHistory(ctx context.Context, noteID string) ([]domain.Version, error) {
	if _, err := s.repo.GetHistory(ctx, noteID); err != nil {
		return nil, err
	}

	versions, err := s.repo.ListVersions(ctx, noteID)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if err := s.loadContent(ctx, &versions[i]); err != nil {
			return nil, err
		}
	}
	return versions, nil
}

func (s *VersionStore) GetVersion(ctx context.Context, noteID, versionID string) (*domain.Version, error) {
	v, err := s.repo.GetVersion(ctx, noteID, versionID)
	if err != nil {
		return nil, err
	}
	if err := s.loadContent(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *VersionStore) GetCurrentVersion(ctx context.Context, noteID string) (*domain.Version, error) {
	v, err := s.currentVersion(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := s.loadContent(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Head возвращает заголовок истории с текущей ревизией
func (s *VersionStore) Head(ctx context.Context, noteID string) (*domain.VersionHistory, error) {
	return s.repo.GetHistory(ctx, noteID)
}

// currentVersion отдаёт метаданные текущей версии без чтения содержимого
func (s *VersionStore) currentVersion(ctx context.Context, noteID string) (*domain.Version, error) {
	head, err := s.repo.GetHistory(ctx, noteID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetVersion(ctx, noteID, head.CurrentVersionID)
}

// RevertToVersion добавляет новую версию с содержимым целевой; существующие версии не меняются
func (s *VersionStore) RevertToVersion(ctx context.Context, in RevertInput) (*domain.Version, error) {
	target, err := s.GetVersion(ctx, in.NoteID, in.VersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get revert target: %w", err)
	}

	v, err := s.AddVersion(ctx, AddVersionInput{
		NoteID:           in.NoteID,
		Content:          target.Content,
		Author:           in.Actor,
		Reason:           fmt.Sprintf(revertReasonFormat, target.CreatedAt.UTC().Format(time.RFC3339)),
		ExpectedRevision: in.ExpectedRevision,
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("note_id", in.NoteID).
		Str("target_version_id", target.ID).
		Str("version_id", v.ID).
		Str("user_id", in.Actor.ID).
		Msg("note reverted")
	return v, nil
}

// CompareVersions сравнивает версии построчно по принадлежности строки другой версии.
// Порядок строк не учитывается: переставленные строки в разницу не попадают.
func (s *VersionStore) CompareVersions(ctx context.Context, noteID, versionA, versionB string) (*domain.VersionDiff, error) {
	a, err := s.GetVersion(ctx, noteID, versionA)
	if err != nil {
		return nil, err
	}
	b, err := s.GetVersion(ctx, noteID, versionB)
	if err != nil {
		return nil, err
	}
	return DiffLines(a.Content, b.Content), nil
}

// DiffLines: added - строки to, которых нет в from; removed - наоборот
func DiffLines(from, to string) *domain.VersionDiff {
	fromLines := strings.Split(from, "\n")
	toLines := strings.Split(to, "\n")

	return &domain.VersionDiff{
		Added:   missingLines(toLines, fromLines),
		Removed: missingLines(fromLines, toLines),
	}
}

func missingLines(lines, other []string) []string {
	present := make(map[string]struct{}, len(other))
	for _, line := range other {
		present[line] = struct{}{}
	}

	result := []string{}
	for _, line := range lines {
		if _, ok := present[line]; !ok {
			result = append(result, line)
		}
	}
	return result
}

func (s *VersionStore) loadContent(ctx context.Context, v *domain.Version) error {
	data, err := s.blobs.Get(ctx, v.ContentKey)
	if err != nil {
		if errors.Is(err, domain.ErrBlobNotFound) {
			return fmt.Errorf("content of version %s is missing: %w", v.ID, err)
		}
		return fmt.Errorf("failed to load version content: %w", err)
	}
	v.Content = string(data)
	return nil
}

func versionKey(noteID, versionID string) string {
	return fmt.Sprintf("notes/%s/versions/%s", noteID, versionID)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func versionKind(reason string) string {
	switch {
	case reason == ReasonAutoSaved:
		return "autosave"
	case strings.HasPrefix(reason, "Reverted to version from "):
		return "revert"
	default:
		return "manual"
	}
}
