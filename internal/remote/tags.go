package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/sirupsen/logrus"
)

type tagsPage struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// errMalformed marks a tags response whose body could not be decoded.
var errMalformed = errors.New("malformed tags response")

// ListTags walks the tags/list endpoint. Each page is anchored after the
// last tag seen; since the protocol has no explicit end marker, a one-item
// probe after every page confirms whether more tags exist. A malformed
// first page yields no tags, and a failure on a later page keeps the tags
// fetched so far.
func (r *OCIRemote) ListTags(ctx context.Context, repo name.Repository) ([]string, error) {
	log := r.log.WithField("repository", repo.String())

	auth, err := r.authenticator(ctx, repo.RegistryStr())
	if err != nil {
		return nil, err
	}

	rt, err := transport.NewWithContext(ctx, repo.Registry, auth, r.transport, []string{repo.Scope(transport.PullScope)})
	if err != nil {
		return nil, fmt.Errorf("list tags %s: %w", repo, err)
	}
	client := &http.Client{Transport: rt}

	tags := []string{}
	seen := map[string]bool{}
	last := ""
	for {
		page, err := r.fetchTags(ctx, client, repo, last, 0)
		if err != nil {
			if len(tags) == 0 && last == "" {
				if errors.Is(err, errMalformed) {
					log.WithError(err).Debug("ignoring malformed tag list")
					return tags, nil
				}
				return nil, fmt.Errorf("list tags %s: %w", repo, err)
			}
			log.WithError(err).WithField("fetched", len(tags)).Debug("tag listing truncated")
			return tags, nil
		}
		if len(page) == 0 {
			return tags, nil
		}

		added := 0
		for _, t := range page {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
				added++
			}
		}
		if added == 0 {
			// registry ignored the last= anchor
			return tags, nil
		}
		last = page[len(page)-1]

		probe, err := r.fetchTags(ctx, client, repo, last, 1)
		if err != nil {
			log.WithError(err).WithField("fetched", len(tags)).Debug("tag listing truncated")
			return tags, nil
		}
		if len(probe) == 0 {
			return tags, nil
		}
	}
}

func (r *OCIRemote) fetchTags(ctx context.Context, client *http.Client, repo name.Repository, last string, n int) ([]string, error) {
	u := url.URL{
		Scheme: repo.Scheme(),
		Host:   repo.RegistryStr(),
		Path:   fmt.Sprintf("/v2/%s/tags/list", repo.RepositoryStr()),
	}
	q := url.Values{}
	if n > 0 {
		q.Set("n", strconv.Itoa(n))
	}
	if last != "" {
		q.Set("last", last)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := transport.CheckError(resp, http.StatusOK); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var page tagsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	r.log.WithFields(logrus.Fields{"repository": repo.String(), "last": last, "count": len(page.Tags)}).Debug("tags page")
	return page.Tags, nil
}
