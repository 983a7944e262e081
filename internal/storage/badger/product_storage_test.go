package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haneum/bandcrawl/internal/models"
)

func testProduct(bandID, postID string, itemNumber, price int, title string) *models.ExtractedProduct {
	return &models.ExtractedProduct{
		ExternalBandID: bandID,
		ExternalPostID: postID,
		ItemNumber:     itemNumber,
		Title:          title,
		BasePrice:      price,
		PriceOptions:   []models.PriceOption{{Quantity: 1, Price: price}},
		Status:         models.ProductOnSale,
	}
}

func TestUpsertProduct_KeyedByItemNumber(t *testing.T) {
	store := setupTestManager(t).ProductStore()
	ctx := context.Background()

	first, err := store.UpsertProduct(ctx, testProduct("b1", "p1", 1, 1000, "사과"))
	require.NoError(t, err)
	assert.Equal(t, "b1:p1:1", first.Key)

	_, err = store.UpsertProduct(ctx, testProduct("b1", "p1", 2, 3000, "배"))
	require.NoError(t, err)

	products, err := store.ListProductsByPost(ctx, "b1", "p1")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "사과", products[0].Title)
	assert.Equal(t, "배", products[1].Title)
}

func TestUpsertProduct_LastWriteWins(t *testing.T) {
	store := setupTestManager(t).ProductStore()
	ctx := context.Background()

	_, err := store.UpsertProduct(ctx, testProduct("b1", "p1", 1, 1000, "사과"))
	require.NoError(t, err)

	_, err = store.UpsertProduct(ctx, testProduct("b1", "p1", 1, 1200, "사과 (가격 인상)"))
	require.NoError(t, err)

	stored, err := store.GetProduct(ctx, "b1", "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1200, stored.BasePrice)

	products, err := store.ListProductsByPost(ctx, "b1", "p1")
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestUpsertProduct_DefaultsItemNumber(t *testing.T) {
	store := setupTestManager(t).ProductStore()

	stored, err := store.UpsertProduct(context.Background(), testProduct("b1", "p1", 0, 500, "감자"))
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ItemNumber)
	assert.Equal(t, "b1:p1:1", stored.Key)
}

func TestListProductsByPost_ScopedToBand(t *testing.T) {
	store := setupTestManager(t).ProductStore()
	ctx := context.Background()

	// Same post ID in two different bands
	_, err := store.UpsertProduct(ctx, testProduct("b1", "p1", 1, 1000, "b1 상품"))
	require.NoError(t, err)
	_, err = store.UpsertProduct(ctx, testProduct("b2", "p1", 1, 2000, "b2 상품"))
	require.NoError(t, err)

	products, err := store.ListProductsByPost(ctx, "b1", "p1")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "b1 상품", products[0].Title)
}

func TestGetProduct_NotFound(t *testing.T) {
	store := setupTestManager(t).ProductStore()

	_, err := store.GetProduct(context.Background(), "b1", "p1", 9)
	assert.Error(t, err)
}
