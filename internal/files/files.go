// Package files stores the binary assets attached to participant drafts (photos and
// biometric templates) under keys derived from the participant uuid and asset kind.
package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// ErrExists is returned by WriteFile when overwrite is false and the key is taken.
var ErrExists = errors.New("file already exists")

// Store is the content store contract used by the draft store and the upload pipeline.
type Store interface {
	// WriteFile durably stores data under key. With overwrite false an existing key fails
	// with ErrExists.
	WriteFile(ctx context.Context, key string, data []byte, overwrite bool) error
	// ReadFile returns the bytes under key, or nil with no error when the key is absent.
	ReadFile(ctx context.Context, key string) ([]byte, error)
	// DeleteFile removes key. Deleting an absent key is not an error.
	DeleteFile(ctx context.Context, key string) error
}

var assetExtensions = map[models.AssetKind]string{
	models.AssetPhoto:             ".jpg",
	models.AssetBiometricTemplate: ".dat",
}

// AssetKey is the storage key of an asset of the given kind for a participant.
func AssetKey(participantUUID string, kind models.AssetKind) string {
	return fmt.Sprintf("%s/%s%s", kind, participantUUID, assetExtensions[kind])
}

// RevisionAssetKey is the key of an asset that replaces an earlier one of the same kind.
// It is derived from the content, so the replaced asset is untouched until the row
// referencing the new one is committed.
func RevisionAssetKey(participantUUID string, kind models.AssetKind, data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s/%s-%s%s", kind, participantUUID, hex.EncodeToString(sum[:6]), assetExtensions[kind])
}

// sanitizeKey ensures key doesn't escape the store root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key contains '..'")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key")
	}
	return key, nil
}
