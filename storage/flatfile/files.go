package flatfile

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// URL schemes accepted by the bucket option.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
)

// fileSet holds the PNG files of a store, either in a local directory or in a
// cloud bucket.
type fileSet interface {
	fmt.Stringer
	list() ([]string, error)
	write(name string, img image.Image) error
	open(name string) (io.ReadCloser, error)
	remove(name string) error
	close() error
}

type dirFiles struct {
	dir string
}

func (d dirFiles) String() string { return d.dir }

func (d dirFiles) list() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (d dirFiles) write(name string, img image.Image) error {
	path := filepath.Join(d.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("unable to encode %s: %v", path, err)
	}
	return f.Close()
}

func (d dirFiles) open(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.dir, name))
}

func (d dirFiles) remove(name string) error {
	err := os.Remove(filepath.Join(d.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (d dirFiles) close() error { return nil }

// bucketFiles keeps patches as objects under a gocloud bucket URL, e.g.
// gs://bucket?prefix=patches/ or mem://.
type bucketFiles struct {
	url    string
	bucket *blob.Bucket
}

func openBucket(url string) (*bucketFiles, error) {
	bucket, err := blob.OpenBucket(context.Background(), url)
	if err != nil {
		return nil, fmt.Errorf("unable to open bucket %q: %v", url, err)
	}
	return &bucketFiles{url: url, bucket: bucket}, nil
}

func (b *bucketFiles) String() string { return b.url }

func (b *bucketFiles) list() ([]string, error) {
	ctx := context.Background()
	var names []string
	it := b.bucket.List(nil)
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !obj.IsDir {
			names = append(names, obj.Key)
		}
	}
	return names, nil
}

func (b *bucketFiles) write(name string, img image.Image) error {
	w, err := b.bucket.NewWriter(context.Background(), name, &blob.WriterOptions{ContentType: "image/png"})
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		w.Close()
		return fmt.Errorf("unable to encode %s: %v", name, err)
	}
	return w.Close()
}

func (b *bucketFiles) open(name string) (io.ReadCloser, error) {
	return b.bucket.NewReader(context.Background(), name, nil)
}

func (b *bucketFiles) remove(name string) error {
	err := b.bucket.Delete(context.Background(), name)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (b *bucketFiles) close() error {
	return b.bucket.Close()
}
