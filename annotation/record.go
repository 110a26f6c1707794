package annotation

import (
	"fmt"
	"net/url"
	"strings"
)

// Key splits a page URL into its domain and path bucket. The domain is the
// lower-cased host (port included when explicit); the path is the URL path,
// "/" when empty. Query and fragment do not take part in bucketing.
func Key(pageURL string) (domain, path string, err error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("annotation: parse page url: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("annotation: page url %q has no host", pageURL)
	}
	path = u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return strings.ToLower(u.Host), path, nil
}

// Record is the unit of persistence: every annotation of one domain,
// grouped by page path. Empty buckets are never kept.
type Record struct {
	Domain string                  `json:"domain"`
	Pages  map[string][]Annotation `json:"pages"`
}

// NewRecord returns an empty record for domain.
func NewRecord(domain string) *Record {
	return &Record{Domain: domain, Pages: make(map[string][]Annotation)}
}

// Bucket returns the annotations stored under path. The slice is shared.
func (r *Record) Bucket(path string) []Annotation {
	if r == nil || r.Pages == nil {
		return nil
	}
	return r.Pages[path]
}

// Put inserts a under path, replacing an existing entry with the same id in
// place so bucket order is stable.
func (r *Record) Put(path string, a Annotation) {
	if r.Pages == nil {
		r.Pages = make(map[string][]Annotation)
	}
	bucket := r.Pages[path]
	for i := range bucket {
		if bucket[i].ID == a.ID {
			bucket[i] = a
			return
		}
	}
	r.Pages[path] = append(bucket, a)
}

// Remove deletes the annotation with id from whichever bucket holds it and
// drops the bucket when it becomes empty. It reports whether anything was
// removed.
func (r *Record) Remove(id string) bool {
	for path, bucket := range r.Pages {
		for i := range bucket {
			if bucket[i].ID != id {
				continue
			}
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(r.Pages, path)
			} else {
				r.Pages[path] = bucket
			}
			return true
		}
	}
	return false
}

// Find returns the annotation with id and its bucket path.
func (r *Record) Find(id string) (*Annotation, string, bool) {
	for path, bucket := range r.Pages {
		for i := range bucket {
			if bucket[i].ID == id {
				return &bucket[i], path, true
			}
		}
	}
	return nil, "", false
}

// Count returns the number of annotations across all buckets.
func (r *Record) Count() int {
	n := 0
	for _, b := range r.Pages {
		n += len(b)
	}
	return n
}

// Validate checks every annotation and that each one sits in the bucket its
// page URL maps to.
func (r *Record) Validate() error {
	for path, bucket := range r.Pages {
		if len(bucket) == 0 {
			return &ValidationError{Fields: map[string]string{"pages": fmt.Sprintf("bucket %q is empty", path)}}
		}
		for i := range bucket {
			if err := bucket[i].Validate(); err != nil {
				return err
			}
			domain, p, err := Key(bucket[i].PageURL)
			if err != nil {
				return &ValidationError{Fields: map[string]string{"page_url": err.Error()}}
			}
			if domain != r.Domain || p != path {
				return &ValidationError{Fields: map[string]string{
					"pages": fmt.Sprintf("annotation %s belongs to %s%s, not %s%s", bucket[i].ID, domain, p, r.Domain, path),
				}}
			}
		}
	}
	return nil
}
