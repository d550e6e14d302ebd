package handlers

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Euregan/valentin/pkg/apierr"
	"github.com/Euregan/valentin/pkg/endpoint"
	"github.com/Euregan/valentin/pkg/result"
	"github.com/Euregan/valentin/pkg/validate"
	"github.com/Euregan/valentin/services/api/internal/store"
)

const (
	msgItemNotFound = "Item not found"
	msgNotYourItem  = "Forbidden"
)

var newItemSchema = validate.MustJSONSchema("item-new.json", `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 200},
		"notes": {"type": "string", "maxLength": 4000}
	}
}`)

// The id comes from the route, so it always wins over a body id.
var itemUpdateSchema = validate.MustJSONSchema("item-update.json", `{
	"type": "object",
	"required": ["id", "name"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 1, "maxLength": 200},
		"notes": {"type": "string", "maxLength": 4000}
	}
}`)

func (a *API) listItems(ctx context.Context, req *endpoint.Request) result.Result[any] {
	items, err := a.Store.ListItems(ctx, req.Identity.Subject())
	if err != nil {
		return a.internal(req, "listing items", err)
	}
	return result.Ok[any](items)
}

func (a *API) createItem(ctx context.Context, req *endpoint.Request) result.Result[any] {
	data := endpoint.DataAs[map[string]any](req)
	it, err := a.Store.CreateItem(ctx, store.Item{
		ItemID:  "itm_" + uuid.NewString(),
		OwnerID: req.Identity.Subject(),
		Name:    stringField(data, "name"),
		Notes:   stringField(data, "notes"),
	})
	if err != nil {
		return a.internal(req, "creating item", err)
	}
	return result.Ok[any](it)
}

func (a *API) getItem(ctx context.Context, req *endpoint.Request) result.Result[any] {
	it, res, ok := a.ownedItem(ctx, req, endpoint.DataAs[resourceRef](req).ID)
	if !ok {
		return res
	}
	return result.Ok[any](it)
}

func (a *API) updateItem(ctx context.Context, req *endpoint.Request) result.Result[any] {
	data := endpoint.DataAs[map[string]any](req)
	it, res, ok := a.ownedItem(ctx, req, stringField(data, "id"))
	if !ok {
		return res
	}
	it.Name = stringField(data, "name")
	if notes, present := data["notes"]; present {
		it.Notes, _ = notes.(string)
	}
	updated, err := a.Store.UpdateItem(ctx, it)
	if errors.Is(err, store.ErrNotFound) {
		return result.Err[any](apierr.NotFound(msgItemNotFound))
	}
	if err != nil {
		return a.internal(req, "updating item", err)
	}
	return result.Ok[any](updated)
}

func (a *API) deleteItem(ctx context.Context, req *endpoint.Request) result.Result[any] {
	it, res, ok := a.ownedItem(ctx, req, endpoint.DataAs[resourceRef](req).ID)
	if !ok {
		return res
	}
	err := a.Store.DeleteItem(ctx, it.ItemID)
	if errors.Is(err, store.ErrNotFound) {
		return result.Err[any](apierr.NotFound(msgItemNotFound))
	}
	if err != nil {
		return a.internal(req, "deleting item", err)
	}
	return result.Ok[any](it)
}

// ownedItem loads itemID and checks it belongs to the caller. When ok is
// false, res is the response to send.
func (a *API) ownedItem(ctx context.Context, req *endpoint.Request, itemID string) (it store.Item, res result.Result[any], ok bool) {
	it, err := a.Store.GetItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return it, result.Err[any](apierr.NotFound(msgItemNotFound)), false
	}
	if err != nil {
		return it, a.internal(req, "loading item", err), false
	}
	if it.OwnerID != req.Identity.Subject() {
		return it, result.Err[any](apierr.Forbidden(msgNotYourItem)), false
	}
	return it, res, true
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}
