package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// VideoHost uploads a video file and returns the URL it is served from.
type VideoHost interface {
	UploadVideo(ctx context.Context, path, title, description string) (string, error)
}

// Geocoder resolves a free text address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (lat, lon float64, err error)
}

// Upload posts a local file as multipart form data under the field "file",
// together with the extra form fields.
func (c *Client) Upload(ctx context.Context, d *schema.Deployment, path, filePath string, fields map[string]string) ([]byte, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", filePath, err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filePath)))
	header.Set("Content-Type", mimeType(filePath))
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	data := buf.Bytes()
	contentType := w.FormDataContentType()
	target := apiURL(d, path, nil)
	return c.authorized(ctx, d, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
}

func mimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// UploadImage uploads the device file of an upload value, caches the new
// image and rewrites v to the image id.
func (c *Client) UploadImage(ctx context.Context, d *schema.Deployment, p *schema.Post, v *schema.Value) (*schema.Image, error) {
	body, err := c.Upload(ctx, d, "media", v.LocalPath(), map[string]string{"caption": p.Title})
	if err != nil {
		return nil, fmt.Errorf("failed to upload image for %s: %w", v.Key, err)
	}
	item := gjson.ParseBytes(body)
	img := decodeImage(d, item)
	if img.ID == 0 {
		return nil, errs.Invalid("media", "upload response has no id")
	}

	scope := c.repo.For(d)
	if err := scope.SaveImage(ctx, img); err != nil {
		return nil, err
	}
	v.Value = strconv.FormatInt(img.ID, 10)
	v.Image = img
	v.ImageURL = img.URL
	v.PostID = p.ID
	if err := scope.SaveValue(ctx, v); err != nil {
		return nil, err
	}

	c.logger.Info("uploaded image", "deployment", d.ID, "image", img.ID)
	return img, nil
}

// UploadVideo uploads the device file of a video value to the video host and
// rewrites v to the hosted URL.
func (c *Client) UploadVideo(ctx context.Context, d *schema.Deployment, p *schema.Post, v *schema.Value) (string, error) {
	if c.videos == nil {
		return "", fmt.Errorf("video upload for %s: %w", v.Key, errs.ErrNotConfigured)
	}
	hosted, err := c.videos.UploadVideo(ctx, v.LocalPath(), p.Title, p.Description)
	if err != nil {
		return "", fmt.Errorf("failed to upload video for %s: %w", v.Key, err)
	}

	v.Value = hosted
	v.PostID = p.ID
	if err := c.repo.For(d).SaveValue(ctx, v); err != nil {
		return "", err
	}
	c.logger.Info("uploaded video", "deployment", d.ID, "url", hosted)
	return hosted, nil
}

// GeocodeAddress resolves the address text of a location value and rewrites
// v to "lat,lon".
func (c *Client) GeocodeAddress(ctx context.Context, d *schema.Deployment, p *schema.Post, v *schema.Value) error {
	if c.geocoder == nil {
		return fmt.Errorf("geocoding %s: %w", v.Key, errs.ErrNotConfigured)
	}
	lat, lon, err := c.geocoder.Geocode(ctx, v.Value)
	if err != nil {
		return fmt.Errorf("failed to geocode %q: %w", v.Value, err)
	}

	v.Value = schema.FormatCoordinates(lat, lon)
	v.PostID = p.ID
	return c.repo.For(d).SaveValue(ctx, v)
}

// ResolveMedia uploads every local file value of p and geocodes every
// address value, concurrently. The first failure cancels the rest. A post
// without a location takes the first resolved location value.
func (c *Client) ResolveMedia(ctx context.Context, d *schema.Deployment, p *schema.Post) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, v := range p.Values {
		switch {
		case v.IsLocalFile() && v.Input == schema.InputUpload:
			g.Go(func() error {
				_, err := c.UploadImage(ctx, d, p, v)
				return err
			})
		case v.IsLocalFile() && v.Input == schema.InputVideo:
			g.Go(func() error {
				_, err := c.UploadVideo(ctx, d, p, v)
				return err
			})
		case v.NeedsGeocoding():
			g.Go(func() error {
				return c.GeocodeAddress(ctx, d, p, v)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if p.Latitude == nil {
		for _, v := range p.Values {
			if v.Input != schema.InputLocation {
				continue
			}
			if lat, lon, ok := v.Coordinates(); ok {
				p.SetLocation(lat, lon)
				break
			}
		}
	}
	return nil
}
