package casjobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// TableInfo describes a table in a database context.
type TableInfo struct {
	Name string  `json:"Name"`
	Rows int64   `json:"Rows"`
	Size float64 `json:"Size"`
	Date int64   `json:"Date"`
}

// GetSchemaName returns the WebServicesId of the token's owner as "wsid_<id>".
func (c *Client) GetSchemaName(ctx context.Context, opts ...CallOption) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}
	if c.users == nil {
		return "", errors.New("no keystone user resolver configured")
	}
	user, err := c.users.KeystoneUser(ctx, token)
	if err != nil {
		return "", fmt.Errorf("resolve keystone user: %w", err)
	}

	url := c.urls.resolve(endpointSchemaName, urlParams{UserID: user.ID, TaskName: c.taskName("GetSchemaName", opts)})
	var resp struct {
		WebServicesID json.Number `json:"WebServicesId"`
	}
	if err := c.getJSON(ctx, "GetSchemaName", url, "Error when getting schema name.", token, &resp); err != nil {
		return "", err
	}
	if resp.WebServicesID == "" {
		return "", errors.New("schema name response has no WebServicesId")
	}
	return "wsid_" + resp.WebServicesID.String(), nil
}

// GetTables lists the tables of dbContext visible to the user.
func (c *Client) GetTables(ctx context.Context, dbContext string, opts ...CallOption) ([]TableInfo, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	dbContext = c.resolveContext(dbContext)
	url := c.urls.resolve(endpointTables, urlParams{Context: dbContext, TaskName: c.taskName("GetTables", opts)})
	var tables []TableInfo
	onError := fmt.Sprintf("Error when getting table description from database context %s.", dbContext)
	if err := c.getJSON(ctx, "GetTables", url, onError, token, &tables); err != nil {
		return nil, err
	}
	return tables, nil
}
