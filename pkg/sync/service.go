package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Service configuration keys. The caller populates the mapping before any
// backend operation; missing keys fail fast with ErrMissingAuth.
const (
	ConfigServiceRoot   = "service_root"
	ConfigUsername      = "username"
	ConfigBearerToken   = "bearer_token"
	ConfigIdentityToken = "identity_token"
)

// defaultRequestTimeout bounds each network call. There is no end-to-end
// deadline for a whole sync pass; callers poll the background job instead.
const defaultRequestTimeout = 30 * time.Second

// maxReportedBody caps the response body captured into failure reports.
const maxReportedBody = 4096

// ServiceClient talks the object service wire protocol: presigning uploads
// and downloads against a dataset's service root and driving the multipart
// begin/complete/abort endpoints.
//
// Wire protocol (HTTP/JSON):
//
//	PUT    {root}/{object}                       -> {presigned_url, key_id}
//	GET    {root}/{object}                       -> {presigned_url, key_id}
//	POST   {root}/{object}/multipart             -> {upload_id}
//	PUT    {root}/{object}?part_number=N&upload_id=U -> {presigned_url}
//	POST   {root}/{object}/multipart/{upload_id}  body [{ETag, PartNumber}]
//	DELETE {root}/{object}/multipart/{upload_id}
//	DELETE {root}
//
// HTTP 403 on the initial presign or multipart-begin call is the
// deduplication signal: the object already exists remotely and the transfer
// is skipped.
type ServiceClient struct {
	root     string
	username string
	bearer   string
	identity string
	http     *http.Client
}

// NewServiceClient builds a client from the caller-populated configuration
// mapping. All four keys are required; a missing key fails fast before any
// network call.
func NewServiceClient(config map[string]string) (*ServiceClient, error) {
	for _, key := range []string{ConfigServiceRoot, ConfigUsername, ConfigBearerToken, ConfigIdentityToken} {
		if config[key] == "" {
			return nil, fmt.Errorf("%w: %s is not set", ErrMissingAuth, key)
		}
	}

	return &ServiceClient{
		root:     config[ConfigServiceRoot],
		username: config[ConfigUsername],
		bearer:   config[ConfigBearerToken],
		identity: config[ConfigIdentityToken],
		http:     &http.Client{Timeout: defaultRequestTimeout},
	}, nil
}

// authorize attaches the session headers every service call carries.
func (c *ServiceClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.bearer)
	req.Header.Set("Identity", c.identity)
	req.Header.Set("User", c.username)
	req.Header.Set("Content-Type", "application/json")
}

// do issues one service request and decodes a JSON response into out (when
// non-nil). Statuses outside okStatuses become *ServiceError. Only the first
// okStatus carries a decodable body; alternates like 403 or 204 do not.
func (c *ServiceClient) do(ctx context.Context, op, method, requestURL string, body io.Reader, out any, okStatuses ...int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &ServiceError{Operation: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	ok := false
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReportedBody))
		return resp.StatusCode, &ServiceError{Operation: op, Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil && resp.StatusCode == okStatuses[0] {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &ServiceError{Operation: op, Status: resp.StatusCode, Body: "undecodable response: " + err.Error()}
		}
	}

	return resp.StatusCode, nil
}

// PresignUpload requests an upload URL for objectID. A 403 reports the
// object as already present remotely (AlreadyExists), which callers treat as
// success without moving bytes.
func (c *ServiceClient) PresignUpload(ctx context.Context, objectID string) (PresignResult, error) {
	var decoded struct {
		PresignedURL string `json:"presigned_url"`
		KeyID        string `json:"key_id"`
	}

	status, err := c.do(ctx, "presign upload", http.MethodPut, c.objectURL(objectID), nil, &decoded,
		http.StatusOK, http.StatusForbidden)
	if err != nil {
		return PresignResult{}, err
	}
	if status == http.StatusForbidden {
		return PresignResult{Kind: AlreadyExists}, nil
	}

	return PresignResult{Kind: Presigned, URL: decoded.PresignedURL, KeyID: decoded.KeyID}, nil
}

// PresignDownload requests a download URL for objectID.
func (c *ServiceClient) PresignDownload(ctx context.Context, objectID string) (PresignResult, error) {
	var decoded struct {
		PresignedURL string `json:"presigned_url"`
		KeyID        string `json:"key_id"`
	}

	if _, err := c.do(ctx, "presign download", http.MethodGet, c.objectURL(objectID), nil, &decoded,
		http.StatusOK); err != nil {
		return PresignResult{}, err
	}

	return PresignResult{Kind: Presigned, URL: decoded.PresignedURL, KeyID: decoded.KeyID}, nil
}

// BeginMultipart starts a multipart upload session for objectID. The second
// return value reports remote deduplication (HTTP 403): the object exists
// and the upload is skipped.
func (c *ServiceClient) BeginMultipart(ctx context.Context, objectID string) (string, bool, error) {
	var decoded struct {
		UploadID string `json:"upload_id"`
	}

	status, err := c.do(ctx, "begin multipart", http.MethodPost, c.objectURL(objectID)+"/multipart", nil, &decoded,
		http.StatusOK, http.StatusForbidden)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusForbidden {
		return "", true, nil
	}

	return decoded.UploadID, false, nil
}

// PresignPart requests an upload URL for one part of a multipart session.
func (c *ServiceClient) PresignPart(ctx context.Context, objectID, uploadID string, partNumber int) (string, error) {
	var decoded struct {
		PresignedURL string `json:"presigned_url"`
	}

	u := c.objectURL(objectID) + "?part_number=" + strconv.Itoa(partNumber) + "&upload_id=" + url.QueryEscape(uploadID)
	if _, err := c.do(ctx, "presign part", http.MethodPut, u, nil, &decoded, http.StatusOK); err != nil {
		return "", err
	}

	return decoded.PresignedURL, nil
}

// CompleteMultipart finalizes a multipart upload with the ordered part list.
func (c *ServiceClient) CompleteMultipart(ctx context.Context, objectID, uploadID string, parts []CompletedPart) error {
	body, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("failed to encode part list: %w", err)
	}

	_, err = c.do(ctx, "complete multipart", http.MethodPost,
		c.objectURL(objectID)+"/multipart/"+url.PathEscape(uploadID), bytes.NewReader(body), nil,
		http.StatusOK)
	return err
}

// AbortMultipart cancels an in-progress multipart upload. Best-effort at the
// call sites: failure to abort is logged, not escalated.
func (c *ServiceClient) AbortMultipart(ctx context.Context, objectID, uploadID string) error {
	_, err := c.do(ctx, "abort multipart", http.MethodDelete,
		c.objectURL(objectID)+"/multipart/"+url.PathEscape(uploadID), nil, nil,
		http.StatusOK, http.StatusNoContent)
	return err
}

// DeleteContents removes every remote object under the service root.
// Any status other than 200/204 is a hard failure.
func (c *ServiceClient) DeleteContents(ctx context.Context) error {
	_, err := c.do(ctx, "delete contents", http.MethodDelete, c.root, nil, nil,
		http.StatusOK, http.StatusNoContent)
	return err
}

// Check verifies the service root accepts the session credentials. Returns
// an optional human-readable message from the service.
func (c *ServiceClient) Check(ctx context.Context) (string, error) {
	var decoded struct {
		Message string `json:"message"`
	}

	if _, err := c.do(ctx, "confirm configuration", http.MethodGet, c.root, nil, &decoded,
		http.StatusOK, http.StatusNoContent); err != nil {
		return "", err
	}

	return decoded.Message, nil
}

// UploadTo PUTs a byte range of a local file to a presigned URL and returns
// the response ETag. Used for both standard uploads (the whole file) and
// individual multipart parts.
func (c *ServiceClient) UploadTo(ctx context.Context, presignedURL, filePath string, offset, length int64) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for upload: %w", filePath, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, io.LimitReader(f, length))
	if err != nil {
		return "", err
	}
	req.ContentLength = length

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ServiceError{Operation: "object upload", Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReportedBody))
		return "", &ServiceError{Operation: "object upload", Status: resp.StatusCode, Body: string(data)}
	}

	return resp.Header.Get("ETag"), nil
}

// DownloadFrom GETs a presigned URL and decompresses the stream into
// dstPath, reporting decompressed bytes through progress.
func (c *ServiceClient) DownloadFrom(ctx context.Context, presignedURL, dstPath string, progress ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, presignedURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ServiceError{Operation: "object download", Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxReportedBody))
		return &ServiceError{Operation: "object download", Status: resp.StatusCode, Body: string(data)}
	}

	_, err = DecompressTo(dstPath, resp.Body, progress)
	return err
}

func (c *ServiceClient) objectURL(objectID string) string {
	return c.root + "/" + url.PathEscape(objectID)
}
