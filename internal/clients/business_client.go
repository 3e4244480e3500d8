package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	nonAlnum       = regexp.MustCompile(`[^a-zA-Z0-9]`)
	duplicateHints = regexp.MustCompile(`(?i)unique|duplicate|exists`)
)

// BusinessClient reads send allowances and issues prize coupons
type BusinessClient struct {
	req      *requester
	baseURL  string
	resolver *URLResolver
	now      func() time.Time
}

// NewBusinessClient creates a business-service client. The resolver may be nil.
func NewBusinessClient(opts Options, resolver *URLResolver) *BusinessClient {
	return &BusinessClient{
		req:      newRequester(opts, "business"),
		baseURL:  trimBase(opts.BaseURL),
		resolver: resolver,
		now:      time.Now,
	}
}

func (c *BusinessClient) baseFor(businessID string) (string, error) {
	if base := c.resolver.Resolve(businessID); base != "" {
		return base, nil
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("no business service URL for business %s", businessID)
	}
	return c.baseURL, nil
}

// AvailableMessages returns the raw remaining-allowance document for a business
func (c *BusinessClient) AvailableMessages(ctx context.Context, businessID string) ([]byte, error) {
	base, err := c.baseFor(businessID)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	endpoint := fmt.Sprintf("%s/internal/v1/business/%s/available-messages", base, url.PathEscape(businessID))
	if err := c.req.postJSON(ctx, endpoint, struct{}{}, &raw); err != nil {
		return nil, fmt.Errorf("failed to get available messages: %w", err)
	}
	return raw, nil
}

type couponRequest struct {
	UserID     string `json:"userId"`
	BusinessID string `json:"businessId"`
	PrizeID    string `json:"prizeId"`
	Code       string `json:"code"`
}

// EnsureCoupon issues a coupon for the user. A conflict means it already
// exists and reports created=false without error.
func (c *BusinessClient) EnsureCoupon(ctx context.Context, userID, businessID, prizeID string) (bool, error) {
	base, err := c.baseFor(businessID)
	if err != nil {
		return false, err
	}

	body := couponRequest{
		UserID:     userID,
		BusinessID: businessID,
		PrizeID:    prizeID,
		Code:       couponCode(prizeID, userID, c.now()),
	}
	err = c.req.postJSON(ctx, base+"/api/v1/coupons", body, nil)
	if err == nil {
		return true, nil
	}
	if isDuplicate(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to ensure coupon: %w", err)
}

func couponCode(prizeID, userID string, at time.Time) string {
	short := func(s string) string {
		s = nonAlnum.ReplaceAllString(s, "")
		if len(s) > 8 {
			s = s[:8]
		}
		return s
	}
	return strings.Join([]string{"CP", short(prizeID), short(userID), short(strconv.FormatInt(at.UnixMilli(), 10))}, "-")
}

func isDuplicate(err error) bool {
	if StatusCode(err) == http.StatusConflict {
		return true
	}
	return duplicateHints.MatchString(err.Error())
}
