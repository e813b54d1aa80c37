package appwrite

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/docpilot/docpilot/internal/target"
)

var _ target.Operator = (*Client)(nil)

type databaseDoc struct {
	ID   string `json:"$id"`
	Name string `json:"name"`
}

type collectionDoc struct {
	ID          string   `json:"$id"`
	Name        string   `json:"name"`
	Permissions []string `json:"$permissions"`
}

type attributeDoc struct {
	Key      string   `json:"key"`
	Type     string   `json:"type"`
	Status   string   `json:"status"`
	Error    string   `json:"error"`
	Required bool     `json:"required"`
	Array    bool     `json:"array"`
	Size     int      `json:"size"`
	Elements []string `json:"elements"`
	Default  any      `json:"default"`
}

type attributeList struct {
	Total      int            `json:"total"`
	Attributes []attributeDoc `json:"attributes"`
}

func databasePath(databaseID string) string {
	return "/databases/" + url.PathEscape(databaseID)
}

func collectionPath(databaseID, collectionID string) string {
	return databasePath(databaseID) + "/collections/" + url.PathEscape(collectionID)
}

func (c *Client) GetDatabase(ctx context.Context, databaseID string) (*target.DatabaseInfo, error) {
	var doc databaseDoc
	if err := c.do(ctx, http.MethodGet, databasePath(databaseID), nil, &doc); err != nil {
		return nil, fmt.Errorf("getting database %s: %w", databaseID, err)
	}
	return &target.DatabaseInfo{ID: doc.ID, Name: doc.Name}, nil
}

func (c *Client) CreateDatabase(ctx context.Context, databaseID, name string) error {
	body := map[string]any{"databaseId": databaseID, "name": name}
	if err := c.do(ctx, http.MethodPost, "/databases", body, nil); err != nil {
		return fmt.Errorf("creating database %s: %w", databaseID, err)
	}
	return nil
}

func (c *Client) GetCollection(ctx context.Context, databaseID, collectionID string) (*target.CollectionInfo, error) {
	var doc collectionDoc
	if err := c.do(ctx, http.MethodGet, collectionPath(databaseID, collectionID), nil, &doc); err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", collectionID, err)
	}
	return &target.CollectionInfo{ID: doc.ID, Name: doc.Name, Permissions: doc.Permissions}, nil
}

func (c *Client) CreateCollection(ctx context.Context, databaseID, collectionID, name string, permissions []string) error {
	if permissions == nil {
		permissions = []string{}
	}
	body := map[string]any{
		"collectionId": collectionID,
		"name":         name,
		"permissions":  permissions,
	}
	if err := c.do(ctx, http.MethodPost, databasePath(databaseID)+"/collections", body, nil); err != nil {
		return fmt.Errorf("creating collection %s: %w", collectionID, err)
	}
	return nil
}

// attributePageSize is the limit sent with each attribute listing request.
// Appwrite caps unqualified list responses at 25 entries.
const attributePageSize = 100

// ListAttributes pages through every attribute of a collection until the
// reported total is reached or the server returns an empty page.
func (c *Client) ListAttributes(ctx context.Context, databaseID, collectionID string) ([]target.AttributeInfo, error) {
	var out []target.AttributeInfo
	for {
		q := url.Values{}
		q.Add("queries[]", fmt.Sprintf("limit(%d)", attributePageSize))
		q.Add("queries[]", fmt.Sprintf("offset(%d)", len(out)))
		path := collectionPath(databaseID, collectionID) + "/attributes?" + q.Encode()

		var list attributeList
		if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
			return nil, fmt.Errorf("listing attributes of %s: %w", collectionID, err)
		}
		for _, a := range list.Attributes {
			out = append(out, target.AttributeInfo{
				Key:      a.Key,
				Type:     a.Type,
				Status:   a.Status,
				Required: a.Required,
				Array:    a.Array,
				Size:     a.Size,
				Elements: a.Elements,
				Default:  a.Default,
				Error:    a.Error,
			})
		}
		if len(list.Attributes) == 0 || len(out) >= list.Total {
			return out, nil
		}
	}
}

func (c *Client) createAttribute(ctx context.Context, databaseID, collectionID, kind, key string, body map[string]any) error {
	path := collectionPath(databaseID, collectionID) + "/attributes/" + kind
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("creating %s attribute %s.%s: %w", kind, collectionID, key, err)
	}
	return nil
}

func (c *Client) CreateStringAttribute(ctx context.Context, databaseID, collectionID string, attr target.StringAttribute) error {
	return c.createAttribute(ctx, databaseID, collectionID, "string", attr.Key, map[string]any{
		"key":      attr.Key,
		"size":     attr.Size,
		"required": attr.Required,
		"default":  attr.Default,
		"array":    attr.Array,
	})
}

func (c *Client) CreateIntegerAttribute(ctx context.Context, databaseID, collectionID string, attr target.IntegerAttribute) error {
	body := map[string]any{
		"key":      attr.Key,
		"required": attr.Required,
		"default":  attr.Default,
		"array":    attr.Array,
	}
	if attr.Min != nil {
		body["min"] = *attr.Min
	}
	if attr.Max != nil {
		body["max"] = *attr.Max
	}
	return c.createAttribute(ctx, databaseID, collectionID, "integer", attr.Key, body)
}

func (c *Client) CreateDatetimeAttribute(ctx context.Context, databaseID, collectionID string, attr target.DatetimeAttribute) error {
	return c.createAttribute(ctx, databaseID, collectionID, "datetime", attr.Key, map[string]any{
		"key":      attr.Key,
		"required": attr.Required,
		"default":  attr.Default,
		"array":    attr.Array,
	})
}

func (c *Client) CreateEmailAttribute(ctx context.Context, databaseID, collectionID string, attr target.EmailAttribute) error {
	return c.createAttribute(ctx, databaseID, collectionID, "email", attr.Key, map[string]any{
		"key":      attr.Key,
		"required": attr.Required,
		"default":  attr.Default,
		"array":    attr.Array,
	})
}

func (c *Client) CreateEnumAttribute(ctx context.Context, databaseID, collectionID string, attr target.EnumAttribute) error {
	return c.createAttribute(ctx, databaseID, collectionID, "enum", attr.Key, map[string]any{
		"key":      attr.Key,
		"elements": attr.Elements,
		"required": attr.Required,
		"default":  attr.Default,
		"array":    attr.Array,
	})
}

func (c *Client) CreateBooleanAttribute(ctx context.Context, databaseID, collectionID string, attr target.BooleanAttribute) error {
	return c.createAttribute(ctx, databaseID, collectionID, "boolean", attr.Key, map[string]any{
		"key":      attr.Key,
		"required": attr.Required,
		"default":  attr.Default,
		"array":    attr.Array,
	})
}

func (c *Client) CreateRelationship(ctx context.Context, databaseID string, rel target.Relationship) error {
	body := map[string]any{
		"relatedCollectionId": rel.RelatedCollectionID,
		"type":                rel.Type,
		"twoWay":              rel.TwoWay,
		"key":                 rel.Key,
		"onDelete":            rel.OnDelete,
	}
	if rel.TwoWayKey != "" {
		body["twoWayKey"] = rel.TwoWayKey
	}
	path := collectionPath(databaseID, rel.CollectionID) + "/attributes/relationship"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("creating relationship %s.%s: %w", rel.CollectionID, rel.Key, err)
	}
	return nil
}
