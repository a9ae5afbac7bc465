package commerce

import (
	"context"
	"fmt"
	"strings"

	"github.com/meridian-goods/api/internal/domain"
)

// Customer is the account profile returned by login/register/session calls.
type Customer struct {
	DatabaseID int    `json:"databaseId"`
	Email      string `json:"email"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
}

// Session bundles the credentials and profile after an auth-changing call.
type Session struct {
	AuthToken    string
	RefreshToken string
	SessionToken string
	Customer     Customer
}

// Login exchanges shopper credentials for auth and session tokens.
func (c *Client) Login(ctx context.Context, sessionToken, username, password string) (Session, error) {
	const mutation = `mutation Login($input: LoginInput!) {
  login(input: $input) {
    authToken
    refreshToken
    sessionToken
    customer { databaseId email firstName lastName }
  }
}`
	var data struct {
		Login struct {
			AuthToken    string   `json:"authToken"`
			RefreshToken string   `json:"refreshToken"`
			SessionToken string   `json:"sessionToken"`
			Customer     Customer `json:"customer"`
		} `json:"login"`
	}
	variables := map[string]any{
		"input": map[string]any{"username": username, "password": password},
	}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken}, "login", mutation, variables, &data)
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}

	out := Session{
		AuthToken:    data.Login.AuthToken,
		RefreshToken: data.Login.RefreshToken,
		SessionToken: session,
		Customer:     data.Login.Customer,
	}
	if token := strings.TrimSpace(data.Login.SessionToken); token != "" {
		out.SessionToken = token
	}
	return out, nil
}

// Register creates a shopper account and signs it in.
func (c *Client) Register(ctx context.Context, sessionToken string, customer domain.CustomerInfo, password string) (Session, error) {
	const mutation = `mutation RegisterCustomer($input: RegisterCustomerInput!) {
  registerCustomer(input: $input) {
    authToken
    refreshToken
    customer { databaseId email firstName lastName }
  }
}`
	var data struct {
		RegisterCustomer struct {
			AuthToken    string   `json:"authToken"`
			RefreshToken string   `json:"refreshToken"`
			Customer     Customer `json:"customer"`
		} `json:"registerCustomer"`
	}
	variables := map[string]any{
		"input": map[string]any{
			"email":     customer.Email,
			"firstName": customer.FirstName,
			"lastName":  customer.LastName,
			"password":  password,
		},
	}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken}, "registerCustomer", mutation, variables, &data)
	if err != nil {
		return Session{}, fmt.Errorf("register: %w", err)
	}
	return Session{
		AuthToken:    data.RegisterCustomer.AuthToken,
		RefreshToken: data.RegisterCustomer.RefreshToken,
		SessionToken: session,
		Customer:     data.RegisterCustomer.Customer,
	}, nil
}

// CurrentCustomer fetches the signed-in customer's profile, establishing a
// session token when the caller had none.
func (c *Client) CurrentCustomer(ctx context.Context, sessionToken, authToken string) (Customer, string, error) {
	const query = `query CurrentCustomer {
  customer { databaseId email firstName lastName }
}`
	var data struct {
		Customer Customer `json:"customer"`
	}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken, authToken: authToken}, "currentCustomer", query, nil, &data)
	if err != nil {
		return Customer{}, session, fmt.Errorf("current customer: %w", err)
	}
	return data.Customer, session, nil
}
