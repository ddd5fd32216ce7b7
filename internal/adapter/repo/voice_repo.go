package repo

import (
	"context"

	"server/internal/domain"
)

// VoiceRepositoryPG implements domain.VoiceRepository.
type VoiceRepositoryPG struct {
	db DB
}

// NewVoiceRepository creates a new voice repository backed by PostgreSQL.
func NewVoiceRepository(db DB) *VoiceRepositoryPG {
	return &VoiceRepositoryPG{db: db}
}

// Create inserts a voice asset. Assets are immutable afterwards.
func (r *VoiceRepositoryPG) Create(ctx context.Context, voice *domain.VoiceAsset) error {
	query := `
INSERT INTO voices (id, user_id, service, voice_key, name, storage_key)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6);
`
	_, err := r.db.Exec(ctx, query,
		voice.ID,
		voice.UserID,
		voice.Service,
		voice.VoiceKey,
		voice.Name,
		voice.StorageKey,
	)
	return err
}

// ListAvailable returns system voices plus the user's own uploads.
func (r *VoiceRepositoryPG) ListAvailable(ctx context.Context, userID string) ([]domain.VoiceAsset, error) {
	query := `
SELECT id, COALESCE(user_id, ''), service, voice_key, name, storage_key, created_at
FROM voices
WHERE user_id IS NULL OR user_id = $1
ORDER BY user_id NULLS FIRST, created_at DESC;
`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var voices []domain.VoiceAsset
	for rows.Next() {
		var v domain.VoiceAsset
		if err := rows.Scan(&v.ID, &v.UserID, &v.Service, &v.VoiceKey, &v.Name, &v.StorageKey, &v.CreatedAt); err != nil {
			return nil, err
		}
		voices = append(voices, v)
	}
	return voices, rows.Err()
}
