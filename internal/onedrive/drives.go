package onedrive

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/netheos/pcsgo/internal/storage"
)

// userResponse mirrors the Graph /me JSON response.
type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	// UPN is a fallback when mail is empty, common on personal accounts.
	UPN string `json:"userPrincipalName"`
}

// driveResponse mirrors the Graph drive JSON response.
type driveResponse struct {
	ID        string      `json:"id"`
	DriveType string      `json:"driveType"`
	Quota     *quotaFacet `json:"quota"`
}

type quotaFacet struct {
	Used  int64 `json:"used"`
	Total int64 `json:"total"`
}

// UserID returns the account email, or the user principal name when the
// profile has no mail.
func (p *Provider) UserID(ctx context.Context) (string, error) {
	var ur userResponse

	if err := p.do(ctx, call{method: http.MethodGet, url: p.baseURL + "/me"}, &ur); err != nil {
		return "", err
	}

	id := ur.Mail
	if id == "" {
		id = ur.UPN
	}

	if id == "" {
		return "", errors.New("onedrive: user profile has neither mail nor user principal name")
	}

	p.logger.Debug("user identifier retrieved", slog.String("user", id))

	return id, nil
}

// Quota returns the drive usage. Unknown values are -1.
func (p *Provider) Quota(ctx context.Context) (storage.Quota, error) {
	var dr driveResponse

	if err := p.do(ctx, call{method: http.MethodGet, url: p.baseURL + "/me/drive"}, &dr); err != nil {
		return storage.Quota{}, err
	}

	if dr.Quota == nil {
		return storage.Quota{BytesUsed: -1, BytesAllowed: -1}, nil
	}

	return storage.Quota{BytesUsed: dr.Quota.Used, BytesAllowed: dr.Quota.Total}, nil
}
