package dto

// ClassCount is the number of detections of one class within one batch.
type ClassCount struct {
	ClassName string `json:"className"`
	BatchName string `json:"batchName"`
	Count     int    `json:"count"`
}

// StatsQuery selects which detections are aggregated for a chart.
type StatsQuery struct {
	ProjectID  int64
	BatchIDs   []int64
	ClassNames []string
}

// StatsData is the JSON payload of the statistics endpoint.
type StatsData struct {
	PlotType string       `json:"plotType"`
	Rows     []ClassCount `json:"rows"`
	Total    int          `json:"total"`
}
