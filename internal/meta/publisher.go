package meta

import (
	"context"
	"fmt"

	"liguns/internal/imageproc"
	"liguns/internal/models"

	"github.com/rs/zerolog"
)

// WebsiteLookup resolves the website a post belongs to (for its logo).
type WebsiteLookup interface {
	GetWebsite(ctx context.Context, id string) (*models.Website, error)
}

// ImageNormalizer adapts an image to platform rules.
type ImageNormalizer interface {
	Normalize(ctx context.Context, imageRef string, bg imageproc.Background, watermarkRef string) (*imageproc.Result, error)
}

// Uploader stores a derived image and returns a publicly fetchable URL.
type Uploader interface {
	Upload(ctx context.Context, userID string, data []byte) (string, error)
}

// Request is everything needed to publish one entry.
type Request struct {
	Platform    string
	AccessToken string
	AccountID   string
	Caption     string
	ImageURL    string
	UserID      string
	WebsiteID   string
}

// Result describes a successful publish.
type Result struct {
	PostID         string `json:"postId"`
	ImageURL       string `json:"imageUrl,omitempty"`
	ImageProcessed bool   `json:"imageProcessed,omitempty"`
}

// Publisher routes a request to the platform adapter. Instagram images go
// through normalization first when a normalizer and uploader are set.
type Publisher struct {
	client     *Client
	websites   WebsiteLookup
	normalizer ImageNormalizer
	uploader   Uploader
	background imageproc.Background
	logger     *zerolog.Logger
}

type PublisherOption func(*Publisher)

// WithImageProcessing enables normalization on the Instagram path.
func WithImageProcessing(n ImageNormalizer, u Uploader, bg imageproc.Background) PublisherOption {
	return func(p *Publisher) {
		p.normalizer = n
		p.uploader = u
		p.background = bg
	}
}

// WithWebsites enables per-website watermarking.
func WithWebsites(w WebsiteLookup) PublisherOption {
	return func(p *Publisher) { p.websites = w }
}

func NewPublisher(client *Client, logger *zerolog.Logger, opts ...PublisherOption) *Publisher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	p := &Publisher{client: client, background: imageproc.BackgroundBlur, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish dispatches by platform.
func (p *Publisher) Publish(ctx context.Context, req Request) (*Result, error) {
	switch req.Platform {
	case models.PlatformFacebook:
		id, err := p.client.PublishFacebook(ctx, req.AccessToken, req.AccountID, req.Caption, req.ImageURL)
		if err != nil {
			return nil, err
		}
		return &Result{PostID: id, ImageURL: req.ImageURL}, nil
	case models.PlatformInstagram:
		if req.ImageURL == "" {
			return nil, ErrImageRequired
		}
		return p.PublishInstagramWithProcessing(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, req.Platform)
	}
}

// PublishInstagramWithProcessing normalizes the image (watermarking it with
// the website logo when one exists) and publishes the result. Any
// processing failure falls back to the original image URL.
func (p *Publisher) PublishInstagramWithProcessing(ctx context.Context, req Request) (*Result, error) {
	imageURL, processed := p.prepareImage(ctx, req)

	id, err := p.client.PublishInstagram(ctx, req.AccessToken, req.AccountID, req.Caption, imageURL)
	if err != nil {
		return nil, err
	}
	return &Result{PostID: id, ImageURL: imageURL, ImageProcessed: processed}, nil
}

func (p *Publisher) prepareImage(ctx context.Context, req Request) (string, bool) {
	if p.normalizer == nil || p.uploader == nil || req.ImageURL == "" {
		return req.ImageURL, false
	}

	logger := p.logger.With().Str("image_url", req.ImageURL).Logger()

	var logoURL string
	if p.websites != nil && req.WebsiteID != "" {
		site, err := p.websites.GetWebsite(ctx, req.WebsiteID)
		if err != nil {
			logger.Warn().Err(err).Str("website_id", req.WebsiteID).Msg("website lookup failed, skipping watermark")
		} else if site != nil {
			logoURL = site.LogoURL
		}
	}

	res, err := p.normalizer.Normalize(ctx, req.ImageURL, p.background, logoURL)
	if err != nil {
		logger.Warn().Err(err).Msg("image processing failed, publishing original")
		return req.ImageURL, false
	}
	if !res.WasProcessed {
		return req.ImageURL, false
	}

	uploaded, err := p.uploader.Upload(ctx, req.UserID, res.Buffer)
	if err != nil {
		logger.Warn().Err(err).Msg("processed image upload failed, publishing original")
		return req.ImageURL, false
	}

	logger.Info().Str("processed_url", uploaded).Int("width", res.Width).Int("height", res.Height).Msg("image normalized")
	return uploaded, true
}
