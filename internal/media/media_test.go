package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pixel = "data:image/png;base64,iVBORw0KGgo="

func TestParseDataURL(t *testing.T) {
	d, err := ParseDataURL(pixel)
	require.NoError(t, err)
	assert.Equal(t, "image/png", d.MIME)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, d.Data)

	d, err = ParseDataURL("data:;base64,aGk=")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", d.MIME)

	for _, bad := range []string{
		"",
		"http://example.com/a.png",
		"data:image/png;base64",
		"data:text/plain,hello",
		"data:image/png;base64,***",
		"data:png;base64,aGk=",
	} {
		_, err := ParseDataURL(bad)
		assert.ErrorIs(t, err, ErrInvalid, bad)
	}
}

func TestInlineKeepsValueAndEnforcesLimit(t *testing.T) {
	got, err := Inline{}.Save(context.Background(), " "+pixel+" ")
	require.NoError(t, err)
	assert.Equal(t, pixel, got)

	_, err = Inline{MaxBytes: 4}.Save(context.Background(), pixel)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = Inline{MaxBytes: 8}.Save(context.Background(), pixel)
	assert.NoError(t, err)
}

type fakeObjects struct {
	bucket, object, contentType string
	body                        []byte
	removed                     []string
	err                         error
}

func (f *fakeObjects) RemoveObject(_ context.Context, bucket, object string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, bucket+"/"+object)
	return nil
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, object string, r *bytes.Reader, size int64, contentType string) error {
	if f.err != nil {
		return f.err
	}
	body, _ := io.ReadAll(r)
	f.bucket, f.object, f.contentType, f.body = bucket, object, contentType, body
	if int64(len(body)) != size {
		return errors.New("size mismatch")
	}
	return nil
}

func TestMinIOUploadsDecodedPayload(t *testing.T) {
	objects := &fakeObjects{}
	m := &MinIO{objects: objects, bucket: "media", baseURL: "https://cdn.example.com"}

	url, err := m.Save(context.Background(), pixel)
	require.NoError(t, err)
	assert.Equal(t, "media", objects.bucket)
	assert.Equal(t, "image/png", objects.contentType)
	assert.True(t, strings.HasPrefix(objects.object, "reports/"))
	assert.True(t, strings.HasSuffix(objects.object, ".png"))
	assert.Len(t, objects.body, 8)
	assert.Equal(t, "https://cdn.example.com/media/"+objects.object, url)
}

func TestMinIOErrors(t *testing.T) {
	m := &MinIO{objects: &fakeObjects{err: errors.New("down")}, bucket: "media", baseURL: "x"}
	_, err := m.Save(context.Background(), pixel)
	assert.ErrorContains(t, err, "upload media")

	_, err = m.Save(context.Background(), "not a data url")
	assert.ErrorIs(t, err, ErrInvalid)

	m.maxBytes = 1
	_, err = m.Save(context.Background(), pixel)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestMinIORemoveDeletesOnlyItsOwnObjects(t *testing.T) {
	objects := &fakeObjects{}
	m := &MinIO{objects: objects, bucket: "media", baseURL: "https://cdn.example.com"}
	url, err := m.Save(context.Background(), pixel)
	require.NoError(t, err)

	require.NoError(t, m.Remove(context.Background(), pixel))
	require.NoError(t, m.Remove(context.Background(), "https://elsewhere.example.com/media/x.png"))
	assert.Empty(t, objects.removed)

	require.NoError(t, m.Remove(context.Background(), url))
	assert.Equal(t, []string{"media/" + objects.object}, objects.removed)

	objects.err = errors.New("down")
	assert.ErrorContains(t, m.Remove(context.Background(), url), "remove media")
	assert.NoError(t, Inline{}.Remove(context.Background(), pixel))
}
