package server

import (
	"github.com/morezero/contracts-gateway/pkg/schema"
)

// openAPI3 types for generating specs from a service contract.
type openAPI3Spec struct {
	OpenAPI string                      `json:"openapi"`
	Info    openAPI3Info                `json:"info"`
	Paths   map[string]openAPI3PathItem `json:"paths"`
}

type openAPI3Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

type openAPI3PathItem struct {
	Post *openAPI3Operation `json:"post,omitempty"`
}

type openAPI3Operation struct {
	Summary     string                      `json:"summary"`
	Description string                      `json:"description,omitempty"`
	OperationID string                      `json:"operationId"`
	Tags        []string                    `json:"tags,omitempty"`
	RequestBody *openAPI3RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]openAPI3Response `json:"responses"`
}

type openAPI3RequestBody struct {
	Content map[string]openAPI3MediaType `json:"content"`
}

type openAPI3Response struct {
	Description string                       `json:"description"`
	Content     map[string]openAPI3MediaType `json:"content,omitempty"`
}

type openAPI3MediaType struct {
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// buildOpenAPISpec describes the HTTP call endpoint of every method: the request
// body is the JSON argument array, the response carries the JSON result array.
func buildOpenAPISpec(desc *schema.ServiceDescriptor) *openAPI3Spec {
	paths := make(map[string]openAPI3PathItem)
	for _, m := range desc.Methods {
		errorBody := map[string]openAPI3MediaType{"application/json": {Schema: map[string]interface{}{"type": "object"}}}
		paths["/service/"+desc.Name+"/"+m.Name] = openAPI3PathItem{
			Post: &openAPI3Operation{
				Summary:     m.Name + " " + m.Signature(),
				Description: m.Description,
				OperationID: m.Name,
				Tags:        []string{string(m.Mode)},
				RequestBody: &openAPI3RequestBody{
					Content: map[string]openAPI3MediaType{
						"application/json": {Schema: tupleSchema(m.Args)},
					},
				},
				Responses: map[string]openAPI3Response{
					"200": {
						Description: "Success",
						Content: map[string]openAPI3MediaType{
							"application/json": {Schema: map[string]interface{}{
								"type":       "object",
								"properties": map[string]interface{}{"ok": map[string]interface{}{"type": "boolean"}, "result": tupleSchema(m.Results)},
							}},
						},
					},
					"400": {Description: "Arguments do not match the contract", Content: errorBody},
					"422": {Description: "Rejected by the remote service", Content: errorBody},
					"503": {Description: "Remote service unavailable", Content: errorBody},
					"504": {Description: "Timed out", Content: errorBody},
				},
			},
		}
	}
	description := desc.Description
	if description == "" {
		description = "Service " + desc.Name
	}
	version := desc.Version
	if version == "" {
		version = "0.0.0"
	}
	return &openAPI3Spec{
		OpenAPI: "3.0.0",
		Info:    openAPI3Info{Title: desc.Name, Description: description, Version: version},
		Paths:   paths,
	}
}

func tupleSchema(types []*schema.Type) map[string]interface{} {
	items := make([]interface{}, len(types))
	for i, t := range types {
		items[i] = jsonSchema(t)
	}
	return map[string]interface{}{
		"type":     "array",
		"minItems": len(types),
		"maxItems": len(types),
		"items":    items,
	}
}

// jsonSchema renders t as the JSON Schema of its codec JSON form.
func jsonSchema(t *schema.Type) map[string]interface{} {
	var out map[string]interface{}
	switch t.Kind {
	case schema.KindText:
		out = map[string]interface{}{"type": "string"}
	case schema.KindNat:
		out = map[string]interface{}{"type": "integer", "minimum": 0}
	case schema.KindBool:
		out = map[string]interface{}{"type": "boolean"}
	case schema.KindPrincipal:
		out = map[string]interface{}{"type": "string", "format": "principal"}
	case schema.KindVec:
		out = map[string]interface{}{"type": "array", "items": jsonSchema(t.Elem)}
	case schema.KindRecord:
		props := make(map[string]interface{}, len(t.Fields))
		required := make([]string, 0, len(t.Fields))
		for _, f := range t.Fields {
			props[f.Name] = jsonSchema(f.Type)
			required = append(required, f.Name)
		}
		out = map[string]interface{}{"type": "object", "properties": props, "required": required, "additionalProperties": false}
	case schema.KindVariant:
		cases := make([]interface{}, 0, len(t.Fields))
		for _, f := range t.Fields {
			payload := map[string]interface{}{"type": "null"}
			if f.Type != nil {
				payload = jsonSchema(f.Type)
			}
			cases = append(cases, map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{f.Name: payload},
				"required":   []string{f.Name},
			})
		}
		out = map[string]interface{}{"oneOf": cases}
	default:
		out = map[string]interface{}{}
	}
	if t.Name != "" {
		out["title"] = t.Name
	}
	return out
}
