package webapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/tapehsm/pkg/inventory"
)

type InventoryController struct {
	inv *inventory.Inventory
}

func NewInventoryController(inv *inventory.Inventory) *InventoryController {
	return &InventoryController{inv: inv}
}

type PoolRequest struct {
	Name string `json:"name"`
}

type PoolCartridgeRequest struct {
	TapeID string `json:"tape_id"`
}

func (c *InventoryController) ListDrives(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.inv.ListDrives())
}

func (c *InventoryController) ListCartridges(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.inv.ListCartridges())
}

func (c *InventoryController) ListPools(ctx echo.Context) error {
	pools := c.inv.ListPools()
	if pools == nil {
		pools = []inventory.PoolSummary{}
	}
	return ctx.JSON(http.StatusOK, pools)
}

func (c *InventoryController) CreatePool(ctx echo.Context) error {
	var req PoolRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	if err := c.inv.CreatePool(req.Name); err != nil {
		return toHTTPError(err)
	}

	pool, _ := c.inv.LookupPool(req.Name)
	return ctx.JSON(http.StatusCreated, pool)
}

func (c *InventoryController) DeletePool(ctx echo.Context) error {
	if err := c.inv.DeletePool(ctx.Param("name")); err != nil {
		return toHTTPError(err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

func (c *InventoryController) AddCartridge(ctx echo.Context) error {
	var req PoolCartridgeRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	if err := c.inv.AddCartridgeToPool(ctx.Param("name"), req.TapeID); err != nil {
		return toHTTPError(err)
	}

	pool, _ := c.inv.LookupPool(ctx.Param("name"))
	return ctx.JSON(http.StatusOK, pool)
}

func (c *InventoryController) RemoveCartridge(ctx echo.Context) error {
	if err := c.inv.RemoveCartridgeFromPool(ctx.Param("name"), ctx.Param("tape")); err != nil {
		return toHTTPError(err)
	}

	pool, _ := c.inv.LookupPool(ctx.Param("name"))
	return ctx.JSON(http.StatusOK, pool)
}
