package marketplace

// Wire types for the marketplace statistics API. Responses are decoded into
// these explicitly typed records at the boundary; nothing downstream touches
// raw JSON.

// createTaskResponse is returned when a bulk stock-report task is accepted.
type createTaskResponse struct {
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// reportDownloadResponse is returned by the report download endpoint. While
// the report is still being generated the server answers with a processing
// status and no data.
type reportDownloadResponse struct {
	Status string           `json:"status"`
	Data   []StockReportRow `json:"data"`
}

const (
	reportStatusDone       = "done"
	reportStatusProcessing = "processing"
	reportStatusNew        = "new"
)

// StockReportRow is one line of the downloaded stock report: quantity of one
// product on one (raw-labeled) warehouse.
type StockReportRow struct {
	SellerArticle      string `json:"supplierArticle"`
	MarketplaceArticle int64  `json:"nmId"`
	WarehouseName      string `json:"warehouseName"`
	Quantity           int    `json:"quantity"`
}

// OrderEventRow is one order event from the orders feed. SRID is the
// marketplace-unique order id; the feed may replay the same SRID.
type OrderEventRow struct {
	SRID               string `json:"srid"`
	SellerArticle      string `json:"supplierArticle"`
	MarketplaceArticle int64  `json:"nmId"`
	WarehouseName      string `json:"warehouseName"`
	WarehouseType      string `json:"warehouseType"`
	IsCancel           bool   `json:"isCancel"`
	Date               string `json:"date"`
}
