package platform

import (
	"strings"

	"github.com/distribution/reference"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// ImageRef is a parsed container image reference.
type ImageRef struct {
	Domain     string
	Repository string
	Tag        string
	Digest     digest.Digest
}

// ParseImage parses and normalises an image reference. An image with
// neither tag nor digest is taken to mean "latest".
func ParseImage(image string) (ImageRef, error) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return ImageRef{}, errors.Wrapf(err, "parsing image %q", image)
	}
	ref := ImageRef{
		Domain:     reference.Domain(named),
		Repository: reference.Path(named),
	}
	if tagged, ok := named.(reference.Tagged); ok {
		ref.Tag = tagged.Tag()
	}
	if digested, ok := named.(reference.Digested); ok {
		ref.Digest = digested.Digest()
		if err := ref.Digest.Validate(); err != nil {
			return ImageRef{}, errors.Wrapf(err, "image %q", image)
		}
	}
	if ref.Tag == "" && ref.Digest == "" {
		ref.Tag = "latest"
	}
	return ref, nil
}

// ECRRegistry reports whether the image lives in an ECR registry, and
// if so the registry (account) id and region.
func (r ImageRef) ECRRegistry() (registryID, region string, ok bool) {
	// <account>.dkr.ecr.<region>.amazonaws.com[.cn]
	parts := strings.Split(r.Domain, ".")
	if len(parts) < 6 || parts[1] != "dkr" || parts[2] != "ecr" || parts[4] != "amazonaws" {
		return "", "", false
	}
	return parts[0], parts[3], true
}

func (r ImageRef) String() string {
	s := r.Domain + "/" + r.Repository
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest.String()
	}
	return s
}
