package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// mongoConnector implements Connector for MongoDB.
type mongoConnector struct {
	client *mongo.Client
	dbName string
	log    *zap.Logger

	mu         sync.Mutex
	cursor     *mongo.Cursor
	lastAccess time.Time
	fetched    int
}

// MongoQuery is the JSON document accepted by the mongo connector's Execute.
type MongoQuery struct {
	Collection string         `json:"collection"`
	Operation  string         `json:"operation,omitempty"` // find (default) or aggregate
	Filter     map[string]any `json:"filter,omitempty"`
	Projection map[string]any `json:"projection,omitempty"`
	Sort       map[string]any `json:"sort,omitempty"`
	Pipeline   []any          `json:"pipeline,omitempty"` // for aggregate
}

// String encodes q as the JSON text Execute expects.
func (q MongoQuery) String() string {
	b, _ := json.Marshal(q)
	return string(b)
}

func newMongoConnector(uri string, log *zap.Logger) (*mongoConnector, error) {
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return nil, fmt.Errorf("mongo dsn must start with mongodb:// or mongodb+srv://")
	}
	dbName := databaseFromURI(uri)

	log.Debug("connecting to mongo", zap.String("database", dbName))
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoConnector{client: client, dbName: dbName, log: log}, nil
}

// databaseFromURI extracts the database from user:pass@host/DB?params,
// falling back to "test" as the driver does.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return "test"
	}
	path := rest[slash+1:]
	if q := strings.Index(path, "?"); q != -1 {
		path = path[:q]
	}
	if path == "" {
		return "test"
	}
	return path
}

// unmarshalEJSON re-encodes a map[string]any field and uses bson.UnmarshalExtJSON
// to convert MongoDB Extended JSON types ($oid, $date, $numberLong, etc.) to BSON.
func unmarshalEJSON(field map[string]any) (bson.D, error) {
	if field == nil {
		return nil, nil
	}
	raw, err := json.Marshal(field)
	if err != nil {
		return nil, err
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, fmt.Errorf("extended json: %w", err)
	}
	return doc, nil
}

func (m *mongoConnector) Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCursorLocked(ctx)

	if fetchSize <= 0 {
		fetchSize = 50
	}

	var mq MongoQuery
	if err := json.Unmarshal([]byte(query), &mq); err != nil {
		return nil, fmt.Errorf("invalid query JSON: %w", err)
	}
	if mq.Collection == "" {
		return nil, fmt.Errorf("query must specify 'collection'")
	}
	m.log.Debug("mongo query",
		zap.String("collection", mq.Collection),
		zap.String("operation", mq.Operation))

	coll := m.client.Database(m.dbName).Collection(mq.Collection)
	switch mq.Operation {
	case "", "find":
		return m.execFind(ctx, coll, mq, fetchSize)
	case "aggregate":
		return m.execAggregate(ctx, coll, mq, fetchSize)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", mq.Operation)
	}
}

func (m *mongoConnector) execFind(ctx context.Context, coll *mongo.Collection, mq MongoQuery, fetchSize int) (*QueryPage, error) {
	filter, err := unmarshalEJSON(mq.Filter)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if filter == nil {
		filter = bson.D{}
	}

	opts := options.Find().SetBatchSize(int32(fetchSize))
	if mq.Projection != nil {
		proj, err := unmarshalEJSON(mq.Projection)
		if err != nil {
			return nil, fmt.Errorf("projection: %w", err)
		}
		opts.SetProjection(proj)
	}
	if mq.Sort != nil {
		s, err := unmarshalEJSON(mq.Sort)
		if err != nil {
			return nil, fmt.Errorf("sort: %w", err)
		}
		opts.SetSort(s)
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	m.cursor = cursor
	m.fetched = 0
	m.lastAccess = time.Now()
	return m.fetchMongoBatchLocked(ctx, fetchSize)
}

func (m *mongoConnector) execAggregate(ctx context.Context, coll *mongo.Collection, mq MongoQuery, fetchSize int) (*QueryPage, error) {
	pipeline := mq.Pipeline
	if pipeline == nil {
		pipeline = []any{}
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	m.cursor = cursor
	m.fetched = 0
	m.lastAccess = time.Now()
	return m.fetchMongoBatchLocked(ctx, fetchSize)
}

func (m *mongoConnector) FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cursor == nil {
		return nil, fmt.Errorf("no active cursor, execute a query first")
	}
	if fetchSize <= 0 {
		fetchSize = 50
	}
	m.lastAccess = time.Now()
	return m.fetchMongoBatchLocked(ctx, fetchSize)
}

func (m *mongoConnector) fetchMongoBatchLocked(ctx context.Context, fetchSize int) (*QueryPage, error) {
	var docs []bson.D
	for i := 0; i < fetchSize; i++ {
		if !m.cursor.Next(ctx) {
			break
		}
		var doc bson.D
		if err := m.cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := m.cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	m.fetched += len(docs)

	// Columns: union of keys, _id first, then alphabetical.
	colSet := map[string]bool{}
	var columns []string
	for _, doc := range docs {
		for _, elem := range doc {
			if !colSet[elem.Key] {
				colSet[elem.Key] = true
				columns = append(columns, elem.Key)
			}
		}
	}
	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i] == "_id" {
			return columns[j] != "_id"
		}
		if columns[j] == "_id" {
			return false
		}
		return columns[i] < columns[j]
	})

	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		docMap := make(map[string]any, len(doc))
		for _, elem := range doc {
			docMap[elem.Key] = elem.Value
		}
		row := make([]any, len(columns))
		for j, col := range columns {
			if v, ok := docMap[col]; ok {
				row[j] = mongoScalar(v)
			}
		}
		rows = append(rows, row)
	}

	hasMore := len(docs) == fetchSize
	if !hasMore {
		m.closeCursorLocked(ctx)
	}
	return &QueryPage{
		Columns:      columns,
		Rows:         rows,
		TotalFetched: m.fetched,
		HasMore:      hasMore,
	}, nil
}

// mongoScalar flattens BSON values into plain Go scalars.
func mongoScalar(v any) any {
	switch val := v.(type) {
	case nil, bson.Null:
		return nil
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time()
	case string, bool, int32, int64, float64:
		return val
	case bson.D, bson.A:
		b, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: val}}, false, false)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (m *mongoConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	names, err := m.client.Database(m.dbName).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	schema := &SchemaInfo{}
	for _, n := range names {
		schema.Tables = append(schema.Tables, TableInfo{Name: n})
	}
	return schema, nil
}

func (m *mongoConnector) TableQuery(table string) string {
	return MongoQuery{Collection: table}.String()
}

// ReplaceTable drops the collection and inserts one document per row.
// Null cells are omitted from their document.
func (m *mongoConnector) ReplaceTable(ctx context.Context, table string, columns []string, rows [][]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.client.Database(m.dbName).Collection(table)
	if err := coll.Drop(ctx); err != nil {
		return 0, fmt.Errorf("drop %s: %w", table, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	docs := make([]any, 0, len(rows))
	for _, row := range rows {
		doc := bson.D{}
		for j, col := range columns {
			if j < len(row) && row[j] != nil {
				doc = append(doc, bson.E{Key: col, Value: row[j]})
			}
		}
		docs = append(docs, doc)
	}
	res, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return len(res.InsertedIDs), nil
}

func (m *mongoConnector) Close() error {
	m.mu.Lock()
	m.closeCursorLocked(context.Background())
	m.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *mongoConnector) closeCursorLocked(ctx context.Context) {
	if m.cursor != nil {
		m.cursor.Close(ctx)
		m.cursor = nil
	}
}
