package models

// Queue names for the import pipeline. Both are declared at startup before
// any producer or worker touches them.
const (
	CsvParseQueue   = "csv-parse"
	DataInsertQueue = "data-insert"
)

// CsvParseJob tells the parse worker where to find an uploaded export and
// which import it belongs to. Produced once per upload.
type CsvParseJob struct {
	SiteID          int64  `json:"site"`
	ImportID        string `json:"importId"`
	SourcePlatform  string `json:"sourcePlatform"`
	StorageLocation string `json:"storageLocation"`
	RemoteStorage   bool   `json:"isRemoteStorage"`
	OrganizationID  string `json:"organizationId"`
	StartDate       string `json:"startDate,omitempty"`
	EndDate         string `json:"endDate,omitempty"`
}

// DataInsertJob is either a data-bearing chunk or, when AllChunksSent is set,
// the finalize signal carrying the total chunk count. Both shapes share the
// data-insert queue; ordering relies on FIFO delivery from the single
// producing parse worker.
type DataInsertJob struct {
	SiteID         int64    `json:"site"`
	ImportID       string   `json:"importId"`
	SourcePlatform string   `json:"sourcePlatform"`
	Chunk          []RawRow `json:"chunk"`
	ChunkNumber    int      `json:"chunkNumber"`
	TotalChunks    int      `json:"totalChunks"`
	AllChunksSent  bool     `json:"allChunksSent"`
}
