package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveStore implements ObjectStore on Google Drive. Blobs are addressed by
// their storage path, mapped to nested folders under a configured root.
// Drive links are ACL-gated rather than time-limited, so the ttl on read
// URLs is advisory.
type DriveStore struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveStore builds a Drive-backed store from OAuth credential files.
func NewDriveStore(credentialsFile, tokenFile, folderName string) (*DriveStore, error) {
	ctx := context.Background()

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client, err := clientFromToken(config, tokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	ds := &DriveStore{service: srv, folderName: folderName}
	if err := ds.ensureRootFolder(); err != nil {
		return nil, err
	}
	return ds, nil
}

// clientFromToken loads the cached OAuth token. There is no interactive flow
// here: the service refuses to start without a provisioned token.
func clientFromToken(config *oauth2.Config, tokenFile string) (*http.Client, error) {
	f, err := os.Open(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("drive token not provisioned at %s: %w", tokenFile, err)
	}
	defer f.Close()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("unreadable drive token: %w", err)
	}
	return config.Client(context.Background(), tok), nil
}

func (ds *DriveStore) ensureRootFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		ds.folderName)

	r, err := ds.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("unable to search for folder: %w", err)
	}
	if len(r.Files) > 0 {
		ds.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{
		Name:     ds.folderName,
		MimeType: "application/vnd.google-apps.folder",
	}
	file, err := ds.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("unable to create folder: %w", err)
	}
	ds.folderID = file.Id
	return nil
}

// resolvePath walks the storage path's directory components, creating
// folders as needed, and returns the parent folder id plus the file name.
func (ds *DriveStore) resolvePath(path string, create bool) (string, string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("invalid storage path %q", path)
	}

	parentID := ds.folderID
	for _, dir := range parts[:len(parts)-1] {
		id, err := ds.findFolder(dir, parentID)
		if err != nil {
			return "", "", err
		}
		if id == "" {
			if !create {
				return "", "", fmt.Errorf("folder %q not found under %q", dir, path)
			}
			id, err = ds.createFolder(dir, parentID)
			if err != nil {
				return "", "", err
			}
		}
		parentID = id
	}
	return parentID, parts[len(parts)-1], nil
}

func (ds *DriveStore) findFolder(name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false",
		name, parentID)
	r, err := ds.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Do()
	if err != nil {
		return "", err
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}
	return "", nil
}

func (ds *DriveStore) createFolder(name, parentID string) (string, error) {
	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
		Parents:  []string{parentID},
	}
	file, err := ds.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", err
	}
	return file.Id, nil
}

func (ds *DriveStore) findFile(path string) (*drive.File, error) {
	parentID, name, err := ds.resolvePath(path, false)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", name, parentID)
	r, err := ds.service.Files.List().Q(query).Spaces("drive").
		Fields("files(id, name, webContentLink)").Do()
	if err != nil {
		return nil, fmt.Errorf("unable to look up %q: %w", path, err)
	}
	if len(r.Files) == 0 {
		return nil, fmt.Errorf("object %q not found", path)
	}
	return r.Files[0], nil
}

// SignedReadURL returns the download link for the blob at path.
func (ds *DriveStore) SignedReadURL(ctx context.Context, path string, _ time.Duration) (string, error) {
	file, err := ds.findFile(path)
	if err != nil {
		return "", err
	}
	if file.WebContentLink != "" {
		return file.WebContentLink, nil
	}
	return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", file.Id), nil
}

// Upload writes the blob, retrying transient Drive failures with
// exponential backoff. Best-effort artifact uploads tolerate the retries;
// the orchestrator decides whether a final failure is fatal.
func (ds *DriveStore) Upload(ctx context.Context, path string, data []byte) error {
	parentID, name, err := ds.resolvePath(path, true)
	if err != nil {
		return err
	}

	op := func() error {
		meta := &drive.File{Name: name, Parents: []string{parentID}}
		_, err := ds.service.Files.Create(meta).
			Media(bytes.NewReader(data)).
			Context(ctx).
			Do()
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("drive upload of %q failed: %w", path, err)
	}
	return nil
}

// Delete removes the blob at path.
func (ds *DriveStore) Delete(ctx context.Context, path string) error {
	file, err := ds.findFile(path)
	if err != nil {
		return err
	}
	if err := ds.service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to delete %q: %w", path, err)
	}
	return nil
}
