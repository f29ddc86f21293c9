package meta

import (
	"context"
	"fmt"
	"net/url"

	"liguns/internal/models"
)

// Container status codes reported by the Graph API.
const (
	ContainerFinished   = "FINISHED"
	ContainerInProgress = "IN_PROGRESS"
	ContainerError      = "ERROR"
	ContainerExpired    = "EXPIRED"
	ContainerPublished  = "PUBLISHED"
)

type idResponse struct {
	ID string `json:"id"`
}

// ContainerStatus is the readiness of an Instagram media container.
type ContainerStatus struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	StatusCode string `json:"status_code"`
}

// PublishInstagram runs the two-phase container protocol: create a media
// container for imageURL, wait for it to settle, then publish it.
func (c *Client) PublishInstagram(ctx context.Context, accessToken, igUserID, caption, imageURL string) (string, error) {
	if imageURL == "" {
		return "", ErrImageRequired
	}

	user := url.PathEscape(igUserID)

	var container idResponse
	err := c.postJSON(ctx, models.PlatformInstagram, "media", "/"+user+"/media", map[string]any{
		"image_url":    imageURL,
		"caption":      caption,
		"access_token": accessToken,
	}, &container)
	if err != nil {
		return "", err
	}
	if container.ID == "" {
		return "", newPublishError(models.PlatformInstagram, "media", 0, "Container creation returned no id")
	}

	if err := c.sleep(ctx, c.settleDelay); err != nil {
		return "", transportError(models.PlatformInstagram, "settle", err)
	}
	if err := c.awaitContainer(ctx, accessToken, container.ID); err != nil {
		return "", err
	}

	var published idResponse
	err = c.postJSON(ctx, models.PlatformInstagram, "media_publish", "/"+user+"/media_publish", map[string]any{
		"creation_id":  container.ID,
		"access_token": accessToken,
	}, &published)
	if err != nil {
		return "", err
	}
	if published.ID == "" {
		return "", newPublishError(models.PlatformInstagram, "media_publish", 0, "Container publish returned no id")
	}
	return published.ID, nil
}

// ContainerStatus fetches the processing state of a media container.
func (c *Client) ContainerStatus(ctx context.Context, accessToken, containerID string) (*ContainerStatus, error) {
	q := url.Values{}
	q.Set("fields", "status,status_code")
	q.Set("access_token", accessToken)

	var st ContainerStatus
	if err := c.getJSON(ctx, models.PlatformInstagram, "container_status", "/"+url.PathEscape(containerID), q, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// awaitContainer polls the container a bounded number of times. A container
// that reports ERROR or EXPIRED fails the publish; running out of tries or
// failing to read the status lets phase two proceed and report for itself.
func (c *Client) awaitContainer(ctx context.Context, accessToken, containerID string) error {
	for i := 0; i < c.pollTries; i++ {
		st, err := c.ContainerStatus(ctx, accessToken, containerID)
		if err != nil {
			c.logger.Warn().Err(err).Str("container_id", containerID).Msg("container status check failed")
			return nil
		}

		switch st.StatusCode {
		case ContainerFinished, ContainerPublished:
			return nil
		case ContainerError, ContainerExpired:
			msg := st.Status
			if msg == "" {
				msg = st.StatusCode
			}
			return newPublishError(models.PlatformInstagram, "container_status", 0,
				fmt.Sprintf("Media container %s: %s", st.StatusCode, msg))
		}

		if err := c.sleep(ctx, c.pollPeriod); err != nil {
			return transportError(models.PlatformInstagram, "container_status", err)
		}
	}
	return nil
}
