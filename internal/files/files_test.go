package files

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

func newTempStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return store
}

func TestAssetKey(t *testing.T) {
	if got := AssetKey("abc", models.AssetPhoto); got != "photo/abc.jpg" {
		t.Errorf("unexpected photo key %q", got)
	}
	if got := AssetKey("abc", models.AssetBiometricTemplate); got != "template/abc.dat" {
		t.Errorf("unexpected template key %q", got)
	}
	first := RevisionAssetKey("abc", models.AssetPhoto, []byte("one"))
	if !strings.HasPrefix(first, "photo/abc-") || !strings.HasSuffix(first, ".jpg") {
		t.Errorf("unexpected revision key %q", first)
	}
	if first == RevisionAssetKey("abc", models.AssetPhoto, []byte("two")) {
		t.Error("expected different content to get a different key")
	}
	if first != RevisionAssetKey("abc", models.AssetPhoto, []byte("one")) {
		t.Error("expected the key to be stable for the same content")
	}
}

func TestFSStore_WriteReadDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	key := AssetKey("p-1", models.AssetPhoto)

	if err := store.WriteFile(ctx, key, []byte("jpeg"), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.WriteFile(ctx, key, []byte("other"), false); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if err := store.WriteFile(ctx, key, []byte("jpeg2"), true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := store.ReadFile(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "jpeg2" {
		t.Fatalf("unexpected content %q", got)
	}
	if err := store.DeleteFile(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteFile(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	got, err = store.ReadFile(ctx, key)
	if err != nil || got != nil {
		t.Fatalf("expected absent file, got %q (%v)", got, err)
	}
}

func TestFSStore_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if err := store.WriteFile(ctx, "photo/x.jpg", []byte("original"), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.root, "photo", "x.jpg"), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := store.ReadFile(ctx, "photo/x.jpg"); !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
}

func TestFSStore_PathTraversal(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"../escape", "/abs", " "} {
		if err := store.WriteFile(ctx, key, []byte("x"), true); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_WriteReadDelete(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	store := &S3Store{client: fake, bucket: "assets", prefix: "site-1/"}
	key := AssetKey("p-1", models.AssetBiometricTemplate)

	if err := store.WriteFile(ctx, key, []byte("tpl"), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := fake.objects["site-1/template/p-1.dat"]; !ok {
		t.Fatalf("expected prefixed object key, have %v", fake.objects)
	}
	if err := store.WriteFile(ctx, key, []byte("tpl"), false); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, err := store.ReadFile(ctx, key)
	if err != nil || string(got) != "tpl" {
		t.Fatalf("read: %q %v", got, err)
	}
	if err := store.DeleteFile(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = store.ReadFile(ctx, key)
	if err != nil || got != nil {
		t.Fatalf("expected absent object, got %q (%v)", got, err)
	}
}
