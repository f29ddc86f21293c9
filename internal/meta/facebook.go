package meta

import (
	"context"
	"fmt"
	"net/url"

	"liguns/internal/models"
)

type facebookPostResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

// PublishFacebook posts to a Page in one request: a photo with caption when
// imageURL is set, otherwise a plain feed message.
func (c *Client) PublishFacebook(ctx context.Context, accessToken, pageID, caption, imageURL string) (string, error) {
	body := map[string]any{
		"access_token": accessToken,
		"published":    true,
	}

	edge := "feed"
	if imageURL != "" {
		edge = "photos"
		body["url"] = imageURL
		body["caption"] = caption
	} else {
		body["message"] = caption
	}

	var resp facebookPostResponse
	path := fmt.Sprintf("/%s/%s", url.PathEscape(pageID), edge)
	if err := c.postJSON(ctx, models.PlatformFacebook, edge, path, body, &resp); err != nil {
		return "", err
	}

	if resp.ID != "" {
		return resp.ID, nil
	}
	if resp.PostID != "" {
		return resp.PostID, nil
	}
	return "", newPublishError(models.PlatformFacebook, edge, 0, "Facebook response carried no post id")
}
