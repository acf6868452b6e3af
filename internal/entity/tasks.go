// README: Store operations for tasks, locations, responses and file uploads.
package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"trail/internal/apperr"
	"trail/internal/modules/response"
	"trail/internal/modules/submission"
	"trail/internal/modules/visited"
	"trail/internal/types"
)

// Task is the subset of a task entity the service needs.
type Task struct {
	ID       types.ID         `json:"id"`
	Name     string           `json:"name"`
	Progress visited.Progress `json:"progress"`
	// Responders are the users allowed to add responses.
	Responders []types.ID `json:"-"`
}

func (t Task) CanRespond(userID types.ID) bool {
	for _, id := range t.Responders {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Client) FetchTask(ctx context.Context, taskID types.ID) (Task, error) {
	var out getResponse
	if err := c.get(ctx, "entity.fetch_task", "/entity/"+url.PathEscape(string(taskID)), nil, &out); err != nil {
		return Task{}, err
	}
	e := out.Entity
	t := Task{ID: types.ID(e.ID()), Name: e.text("name")}
	if t.ID == "" {
		t.ID = taskID
	}
	if n, ok := e.number("response_count"); ok {
		t.Progress.Actual = int(n)
	}
	if n, ok := e.number("expected_response_count"); ok {
		t.Progress.Expected = int(n)
	}
	for _, key := range []string{"_owner", "_editor", "_expander"} {
		for _, ref := range e.references(key) {
			t.Responders = append(t.Responders, types.ID(ref))
		}
	}
	return t, nil
}

func (c *Client) FetchTaskLocations(ctx context.Context, taskID types.ID) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("_type.string", "location")
	q.Set("_parent.reference", string(taskID))
	var out listResponse
	if err := c.get(ctx, "entity.fetch_task_locations", "/entity", q, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

func (c *Client) FetchUserCompletedResponses(ctx context.Context, taskID, userID types.ID) ([]visited.CompletedResponse, error) {
	q := url.Values{}
	q.Set("_type.string", "response")
	q.Set("_parent.reference", string(taskID))
	q.Set("_owner.reference", string(userID))
	q.Set("props", "_id,location")
	var out listResponse
	if err := c.get(ctx, "entity.fetch_user_responses", "/entity", q, &out); err != nil {
		return nil, err
	}

	responses := make([]visited.CompletedResponse, 0, len(out.Entities))
	for _, raw := range out.Entities {
		var e Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		r := visited.CompletedResponse{ResponseID: types.ID(e.ID())}
		if refs := e.references("location"); len(refs) > 0 {
			r.LocationRef = types.ID(refs[0])
		}
		responses = append(responses, r)
	}
	return responses, nil
}

func (c *Client) FetchTaskProgress(ctx context.Context, taskID types.ID) (visited.Progress, error) {
	t, err := c.FetchTask(ctx, taskID)
	if err != nil {
		return visited.Progress{}, err
	}
	return t.Progress, nil
}

// CheckResponsePermission reports whether userID may add responses to the task.
func (c *Client) CheckResponsePermission(ctx context.Context, taskID, userID types.ID) (bool, error) {
	t, err := c.FetchTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	return t.CanRespond(userID), nil
}

func (c *Client) CreateResponse(ctx context.Context, req submission.CreateRequest) (types.ID, error) {
	const op = "entity.create_response"

	props := []Property{
		stringProp("_type", "response"),
		referenceProp("_parent", string(req.TaskID)),
	}
	if req.Text != "" {
		props = append(props, stringProp("text", req.Text))
	}
	if req.LocationID != "" {
		props = append(props, referenceProp("location", string(req.LocationID)))
	}
	if req.Coordinate != nil {
		props = append(props, numberProp("lat", req.Coordinate.Lat), numberProp("long", req.Coordinate.Lng))
		if req.Coordinate.Accuracy != nil {
			props = append(props, numberProp("accuracy", *req.Coordinate.Accuracy))
		}
	}
	if req.Address != "" {
		props = append(props, stringProp("address", req.Address))
	}

	var out createResponse
	if err := c.post(ctx, op, "/entity", props, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", apperr.E(apperr.KindTransient, op, "store returned no id", nil)
	}
	return types.ID(out.ID), nil
}

func (c *Client) RequestFileUploadTarget(ctx context.Context, responseID types.ID, f response.File) (submission.UploadTarget, error) {
	const op = "entity.request_upload"

	props := []Property{{Type: "photo", Filename: f.Name, Filesize: f.Size, Filetype: f.ContentType}}
	var out uploadResponse
	if err := c.post(ctx, op, "/entity/"+url.PathEscape(string(responseID)), props, &out); err != nil {
		return submission.UploadTarget{}, err
	}
	for _, p := range out.Properties {
		if p.Upload != nil && p.Upload.URL != "" {
			method := p.Upload.Method
			if method == "" {
				method = http.MethodPut
			}
			return submission.UploadTarget{URL: p.Upload.URL, Method: method, Headers: p.Upload.Headers}, nil
		}
	}
	return submission.UploadTarget{}, apperr.E(apperr.KindTransient, op, "store returned no upload target", nil)
}

// UploadFile sends the file bytes to a pre-authorised upload target. The
// store token is not sent.
func (c *Client) UploadFile(ctx context.Context, target submission.UploadTarget, f response.File) error {
	const op = "entity.upload_file"

	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, bytes.NewReader(f.Content))
	if err != nil {
		return apperr.E(apperr.KindValidation, op, "building upload request", err)
	}
	req.ContentLength = int64(len(f.Content))
	req.Header.Set("Content-Type", f.ContentType)
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.E(apperr.KindTransient, op, "upload target unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	return nil
}
