package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveArchiver uploads completed enrollment audio bundles to Google Drive.
// It is optional: when credentials are absent the server keeps artifacts
// local only.
type DriveArchiver struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveArchiver creates a Google Drive archiver.
func NewDriveArchiver(credentialsFile, tokenFile, folderName string) (*DriveArchiver, error) {
	ctx := context.Background()

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	client, err := getClient(config, tokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %v", err)
	}

	da := &DriveArchiver{service: srv, folderName: folderName}
	if err := da.ensureFolder(); err != nil {
		return nil, err
	}
	return da, nil
}

// getClient builds an HTTP client from a cached token. A server process
// cannot run the interactive consent flow, so a missing token is an error.
func getClient(config *oauth2.Config, tokenFile string) (*http.Client, error) {
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read oauth token %s: %v", tokenFile, err)
	}
	return config.Client(context.Background(), tok), nil
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// ensureFolder finds or creates the root folder
func (da *DriveArchiver) ensureFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		da.folderName)

	r, err := da.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("unable to search for folder: %v", err)
	}
	if len(r.Files) > 0 {
		da.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{
		Name:     da.folderName,
		MimeType: "application/vnd.google-apps.folder",
	}
	file, err := da.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("unable to create folder: %v", err)
	}
	da.folderID = file.Id
	return nil
}

// ArchiveClip uploads one enrollment clip under a dated folder tree and
// returns a shareable link.
func (da *DriveArchiver) ArchiveClip(enrollmentID string, clipPath string) (string, error) {
	now := time.Now()
	folderID, err := da.ensureDateFolder(now)
	if err != nil {
		return "", err
	}

	f, err := os.Open(clipPath)
	if err != nil {
		return "", fmt.Errorf("failed to open clip: %v", err)
	}
	defer f.Close()

	clipFile := &drive.File{
		Name:    fmt.Sprintf("%s_%s.wav", now.Format("20060102_150405"), sanitizeFilename(enrollmentID)),
		Parents: []string{folderID},
	}
	created, err := da.service.Files.Create(clipFile).Media(f).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload clip: %v", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}

// ensureDateFolder creates nested year/month/day folders
func (da *DriveArchiver) ensureDateFolder(t time.Time) (string, error) {
	yearID, err := da.findOrCreateFolder(fmt.Sprintf("%d", t.Year()), da.folderID)
	if err != nil {
		return "", err
	}
	monthID, err := da.findOrCreateFolder(fmt.Sprintf("%02d", t.Month()), yearID)
	if err != nil {
		return "", err
	}
	return da.findOrCreateFolder(fmt.Sprintf("%02d", t.Day()), monthID)
}

// findOrCreateFolder finds or creates a folder with the given parent
func (da *DriveArchiver) findOrCreateFolder(name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false",
		name, parentID)

	r, err := da.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Do()
	if err != nil {
		return "", err
	}
	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
		Parents:  []string{parentID},
	}
	file, err := da.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", err
	}
	return file.Id, nil
}
