package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskflare/internal/engine"
)

func registerAutomations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-automation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/automations",
		Summary:       "Create automation rule",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      CreateAutomationRequest `json:"body"`
	}) (*struct {
		Body AutomationResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAutomation(ctx, engine.AutomationCreateOptions{
			ID:        stringOrEmpty(input.Body.ID),
			ProjectID: input.ProjectID,
			Name:      input.Body.Name,
			Trigger:   input.Body.Trigger,
			Action:    input.Body.Action,
			ActorID:   userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AutomationResponse `json:"body"`
		}{Body: automationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-automations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/automations",
		Summary:     "List automation rules",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []AutomationResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAutomations(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AutomationResponse `json:"body"`
		}{Body: mapAutomations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-automation",
		Method:      http.MethodGet,
		Path:        "/automations/{automation_id}",
		Summary:     "Get automation rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AutomationID string `path:"automation_id"`
	}) (*struct {
		Body AutomationResponse `json:"body"`
	}, error) {
		a, err := e.Repo.GetAutomation(ctx, input.AutomationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AutomationResponse `json:"body"`
		}{Body: automationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-automation",
		Method:      http.MethodPatch,
		Path:        "/automations/{automation_id}",
		Summary:     "Update automation rule",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AutomationID string                  `path:"automation_id"`
		Body         UpdateAutomationRequest `json:"body"`
	}) (*struct {
		Body AutomationResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAutomation(ctx, engine.AutomationUpdateOptions{
			ID:      input.AutomationID,
			Name:    input.Body.Name,
			Trigger: input.Body.Trigger,
			Action:  input.Body.Action,
			ActorID: userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AutomationResponse `json:"body"`
		}{Body: automationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-automation",
		Method:      http.MethodDelete,
		Path:        "/automations/{automation_id}",
		Summary:     "Delete automation rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AutomationID string `path:"automation_id"`
	}) (*struct{}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAutomation(ctx, input.AutomationID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
