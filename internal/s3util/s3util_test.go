package s3util

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	objects map[string][]byte
	tagging map[string]string
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	if in.Tagging != nil {
		f.tagging[*in.Key] = *in.Tagging
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestUploadDownload(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}, tagging: map[string]string{}}
	ctx := context.Background()

	if err := UploadBytes(ctx, fake, "bucket", "k/1.png", "image/png", []byte("pixels")); err != nil {
		t.Fatalf("UploadBytes() error = %v", err)
	}
	if fake.tagging["k/1.png"] != projectTag {
		t.Errorf("tagging = %q, want %q", fake.tagging["k/1.png"], projectTag)
	}

	got, err := DownloadBytes(ctx, fake, "bucket", "k/1.png", 0)
	if err != nil || string(got) != "pixels" {
		t.Fatalf("DownloadBytes() = %q, %v", got, err)
	}
	if _, err := DownloadBytes(ctx, fake, "bucket", "k/1.png", 3); err == nil {
		t.Error("DownloadBytes() should reject objects over maxBytes")
	}
	if _, err := DownloadBytes(ctx, fake, "bucket", "missing", 0); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("DownloadBytes(missing) error = %v", err)
	}
}

func TestPayloadKey(t *testing.T) {
	tests := map[string]string{
		"image/png":                "results/abc/composed.png",
		"video/mp4":                "results/abc/composed.mp4",
		"image/jpeg":               "results/abc/composed.jpg",
		"application/octet-stream": "results/abc/composed.bin",
	}
	for ct, want := range tests {
		if got := PayloadKey("abc", ct); got != want {
			t.Errorf("PayloadKey(%q) = %q, want %q", ct, got, want)
		}
	}
}
