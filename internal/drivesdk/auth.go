package drivesdk

import (
	"context"
)

// SignInParams are the credentials for a password sign-in. Captcha and Ticket
// are only required when the server has captcha verification enabled.
type SignInParams struct {
	Email    string
	Password string
	Captcha  string
	Ticket   string
}

// SignIn exchanges credentials for a token pair.
func (c *Client) SignIn(ctx context.Context, params *SignInParams) (*TokenPair, error) {
	body := map[string]string{
		"email":    params.Email,
		"password": params.Password,
	}
	if params.Captcha != "" {
		body["captcha"] = params.Captcha
		body["ticket"] = params.Ticket
	}

	var envelope apiResponse[loginData]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetSuccessResult(&envelope).
		Post("/session/token")
	if err := unwrap(resp, err, &envelope, "sign in"); err != nil {
		return nil, err
	}

	return &envelope.Data.Token, nil
}

// RefreshToken exchanges a refresh token for a fresh token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var envelope apiResponse[loginData]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"refresh_token": refreshToken}).
		SetSuccessResult(&envelope).
		Post("/session/token/refresh")
	if err := unwrap(resp, err, &envelope, "refresh token"); err != nil {
		return nil, err
	}

	return &envelope.Data.Token, nil
}

// GetCaptcha fetches a captcha challenge for servers that require one.
func (c *Client) GetCaptcha(ctx context.Context) (*Captcha, error) {
	var envelope apiResponse[Captcha]
	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&envelope).
		Get("/site/captcha")
	if err := unwrap(resp, err, &envelope, "get captcha"); err != nil {
		return nil, err
	}

	return &envelope.Data, nil
}

// Ping checks basic connectivity with the server.
func (c *Client) Ping(ctx context.Context) error {
	var envelope apiResponse[any]
	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&envelope).
		Get("/site/ping")
	return unwrap(resp, err, &envelope, "ping")
}
