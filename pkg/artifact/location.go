package artifact

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

const (
	s3Scheme = "s3://"
	// Stdio names standard input (when reading) or output (when
	// writing).
	Stdio = "-"
)

// Location is where an artifact lives: a local path, "-", or an S3
// object.
type Location struct {
	Path   string
	Bucket string
	Key    string
}

// ParseLocation accepts a file path, "-", or s3://bucket/key.
func ParseLocation(s string) (Location, error) {
	if s == "" {
		return Location{}, errors.New("empty artifact location")
	}
	if !strings.HasPrefix(s, s3Scheme) {
		return Location{Path: s}, nil
	}
	rest := strings.TrimPrefix(s, s3Scheme)
	i := strings.Index(rest, "/")
	if i <= 0 || i == len(rest)-1 {
		return Location{}, errors.Errorf("S3 location %q must be s3://bucket/key", s)
	}
	return Location{Bucket: rest[:i], Key: rest[i+1:]}, nil
}

func (l Location) IsS3() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.IsS3() {
		return s3Scheme + l.Bucket + "/" + l.Key
	}
	return l.Path
}

// Files reads and writes artifact bytes. S3 is only needed for s3://
// locations.
type Files struct {
	S3     s3iface.S3API
	Stdin  io.Reader
	Stdout io.Writer
}

func (f *Files) Read(ctx context.Context, location string) ([]byte, error) {
	l, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	switch {
	case l.IsS3():
		if f.S3 == nil {
			return nil, errors.Errorf("no S3 client configured for %s", l)
		}
		out, err := f.S3.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.Bucket),
			Key:    aws.String(l.Key),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "fetching %s", l)
		}
		defer out.Body.Close()
		return ioutil.ReadAll(out.Body)
	case l.Path == Stdio:
		if f.Stdin == nil {
			return ioutil.ReadAll(os.Stdin)
		}
		return ioutil.ReadAll(f.Stdin)
	}
	return ioutil.ReadFile(l.Path)
}

func (f *Files) Write(ctx context.Context, location string, b []byte) error {
	l, err := ParseLocation(location)
	if err != nil {
		return err
	}
	switch {
	case l.IsS3():
		if f.S3 == nil {
			return errors.Errorf("no S3 client configured for %s", l)
		}
		_, err := f.S3.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(l.Bucket),
			Key:         aws.String(l.Key),
			Body:        bytes.NewReader(b),
			ContentType: aws.String("application/json"),
		})
		return errors.Wrapf(err, "storing %s", l)
	case l.Path == Stdio:
		out := f.Stdout
		if out == nil {
			out = os.Stdout
		}
		_, err := out.Write(b)
		return err
	}
	if dir := filepath.Dir(l.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	// Write then rename, so a reader never sees half an artifact.
	tmp := l.Path + ".tmp"
	if err := ioutil.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.Path)
}
