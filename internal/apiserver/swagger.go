package apiserver

import (
	"net/http"

	"github.com/armature/armature/internal/config"
)

// operation is one method entry in the swagger paths table
func operation(tag, summary string) map[string]interface{} {
	return map[string]interface{}{
		"tags":     []string{tag},
		"summary":  summary,
		"produces": []string{"application/json"},
		"responses": map[string]interface{}{
			"200": map[string]interface{}{"description": "OK"},
		},
	}
}

// getSwaggerDoc serves the API description the swagger UI fetches. The
// document is assembled from the route table rather than generated, so it
// stays a summary-level index of the API.
func (s *APIServer) getSwaggerDoc(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]interface{}{
		"swagger": "2.0",
		"info": map[string]interface{}{
			"title":       "Armature API",
			"description": "Deployment lifecycle orchestration and monitoring",
			"version":     config.AppVersion,
		},
		"basePath": "/api/v1",
		"paths": map[string]interface{}{
			"/deployments": map[string]interface{}{
				"post": operation("deployments", "Submit a deployment"),
				"get":  operation("deployments", "List tracked deployments"),
			},
			"/deployments/{name}": map[string]interface{}{
				"get": operation("deployments", "Get deployment status"),
			},
			"/deployments/{name}/outputs": map[string]interface{}{
				"get": operation("deployments", "Get deployment outputs"),
			},
			"/deployments/{name}/errors": map[string]interface{}{
				"get": operation("deployments", "Get deployment diagnostics"),
			},
			"/deployments/{name}/wait": map[string]interface{}{
				"get": operation("deployments", "Wait for a terminal status"),
			},
			"/deployments/{name}/cancel": map[string]interface{}{
				"post": operation("deployments", "Cancel deployment monitoring"),
			},
			"/environments": map[string]interface{}{
				"post": operation("environments", "Deploy complete environment"),
			},
			"/environments/{project}/{environment}": map[string]interface{}{
				"delete": operation("environments", "Delete an environment"),
			},
			"/history": map[string]interface{}{
				"get": operation("history", "List deployment history"),
			},
			"/history/stats": map[string]interface{}{
				"get": operation("history", "Get deployment statistics"),
			},
			"/history/trends": map[string]interface{}{
				"get": operation("history", "Get daily deployment trends"),
			},
			"/history/cleanup": map[string]interface{}{
				"post": operation("history", "Remove old deployment records"),
			},
			"/resource-groups/{name}": map[string]interface{}{
				"delete": operation("operations", "Delete a resource group"),
			},
			"/resource-groups/{name}/delete-status": map[string]interface{}{
				"get": operation("operations", "Get delete progress"),
			},
			"/resource-groups/{name}/resources": map[string]interface{}{
				"get": operation("operations", "List resources in a group"),
			},
			"/templates": map[string]interface{}{
				"get": operation("operations", "List available templates"),
			},
			"/events": map[string]interface{}{
				"get": operation("events", "Stream deployment events"),
			},
			"/system/health": map[string]interface{}{
				"get": operation("system", "Get system health"),
			},
			"/system/metrics": map[string]interface{}{
				"get": operation("system", "Get system metrics"),
			},
		},
	}
	WriteJSON(w, http.StatusOK, doc)
}
