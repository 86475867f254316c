// Package dynamo stores documents in one DynamoDB table: the partition key is
// the collection path, the sort key the document id, and the body a JSON
// string. Updates are optimistic read-modify-write guarded by a revision.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
)

const maxWriteAttempts = 4

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type Store struct {
	api       dynamodbAPI
	tableName string
	clock     clockwork.Clock
	watchers  *docstore.Watchers

	mu      sync.Mutex
	lastSeq int64
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func New(api dynamodbAPI, tableName string, opts ...Option) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	s := &Store{
		api:       api,
		tableName: tableName,
		clock:     clockwork.NewRealClock(),
		watchers:  docstore.NewWatchers(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type item struct {
	data map[string]any
	rev  int64
	seq  int64
}

func key(path string) (map[string]types.AttributeValue, error) {
	if !docstore.ValidDocPath(path) {
		return nil, fmt.Errorf("dynamo: invalid document path %q", path)
	}
	collection, id := docstore.Split(path)
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: collection},
		"SK": &types.AttributeValueMemberS{Value: id},
	}, nil
}

func (s *Store) Get(ctx context.Context, path string) (*docstore.Document, error) {
	it, err := s.load(ctx, path)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, docstore.ErrNotFound
	}
	_, id := docstore.Split(path)
	return &docstore.Document{Path: path, ID: id, Data: it.data}, nil
}

func (s *Store) Set(ctx context.Context, path string, fields docstore.Fields, opt docstore.SetOption) error {
	return s.write(ctx, path, false, func(existing map[string]any) map[string]any {
		return docstore.ApplySet(existing, fields, opt)
	})
}

func (s *Store) Update(ctx context.Context, path string, fields docstore.Fields) error {
	return s.write(ctx, path, true, func(existing map[string]any) map[string]any {
		return docstore.ApplyUpdate(existing, fields)
	})
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection+"/"+id, fields, docstore.Overwrite); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	k, err := key(path)
	if err != nil {
		return err
	}
	if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(s.tableName), Key: k}); err != nil {
		return fmt.Errorf("dynamo: Delete: %w", err)
	}
	collection, _ := docstore.Split(path)
	s.watchers.Notify(collection)
	return nil
}

// Query reads the whole collection partition, following pagination, and
// evaluates q in process.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: q.Collection},
		},
		ConsistentRead: aws.Bool(true),
	}

	type row struct {
		doc *docstore.Document
		seq int64
	}
	var rows []row
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("dynamo: Query %q: %w", q.Collection, err)
		}
		for _, raw := range out.Items {
			it, err := decodeItem(raw)
			if err != nil {
				return nil, fmt.Errorf("dynamo: Query decode: %w", err)
			}
			id, _ := strAttr(raw, "SK")
			path := q.Collection + "/" + id
			rows = append(rows, row{doc: &docstore.Document{Path: path, ID: id, Data: it.data}, seq: it.seq})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	docs := make([]*docstore.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return docstore.Evaluate(q, docs), nil
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) docstore.Unsubscribe {
	return s.watchers.Watch(ctx, q, s.Query, onSnapshot, onError)
}

func (s *Store) load(ctx context.Context, path string) (*item, error) {
	k, err := key(path)
	if err != nil {
		return nil, err
	}
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: GetItem %q: %w", path, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	it, err := decodeItem(out.Item)
	if err != nil {
		return nil, fmt.Errorf("dynamo: decode %q: %w", path, err)
	}
	return it, nil
}

func (s *Store) write(ctx context.Context, path string, mustExist bool, apply func(existing map[string]any) map[string]any) error {
	k, err := key(path)
	if err != nil {
		return err
	}
	collection, _ := docstore.Split(path)

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, err := s.load(ctx, path)
		if err != nil {
			return err
		}
		if cur == nil && mustExist {
			return docstore.ErrNotFound
		}

		var existing map[string]any
		next := &item{rev: 1}
		cond := "attribute_not_exists(PK)"
		values := map[string]types.AttributeValue{}
		if cur != nil {
			existing = cur.data
			next.rev = cur.rev + 1
			next.seq = cur.seq
			cond = "rev = :rev"
			values[":rev"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(cur.rev, 10)}
		} else {
			next.seq = s.nextSeq(s.clock.Now().UnixNano())
		}

		next.data = apply(existing)
		docstore.ResolveServerTimestamps(next.data, s.clock.Now())
		av, err := encodeItem(k, next)
		if err != nil {
			return err
		}

		in := &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                av,
			ConditionExpression: aws.String(cond),
		}
		if len(values) > 0 {
			in.ExpressionAttributeValues = values
		}
		_, err = s.api.PutItem(ctx, in)
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("dynamo: PutItem %q: %w", path, err)
		}
		s.watchers.Notify(collection)
		return nil
	}
	return fmt.Errorf("dynamo: write %q: too many concurrent updates", path)
}

func (s *Store) nextSeq(now int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now <= s.lastSeq {
		now = s.lastSeq + 1
	}
	s.lastSeq = now
	return now
}

func encodeItem(k map[string]types.AttributeValue, it *item) (map[string]types.AttributeValue, error) {
	body, err := docstore.EncodeJSON(it.data)
	if err != nil {
		return nil, err
	}
	out := map[string]types.AttributeValue{
		"data": &types.AttributeValueMemberS{Value: body},
		"rev":  &types.AttributeValueMemberN{Value: strconv.FormatInt(it.rev, 10)},
		"seq":  &types.AttributeValueMemberN{Value: strconv.FormatInt(it.seq, 10)},
	}
	for name, v := range k {
		out[name] = v
	}
	return out, nil
}

func decodeItem(raw map[string]types.AttributeValue) (*item, error) {
	body, err := strAttr(raw, "data")
	if err != nil {
		return nil, err
	}
	data, err := docstore.DecodeJSON(body)
	if err != nil {
		return nil, err
	}
	rev, err := intAttr(raw, "rev")
	if err != nil {
		return nil, err
	}
	seq, _ := intAttr(raw, "seq")
	return &item{data: data, rev: rev, seq: seq}, nil
}

func strAttr(item map[string]types.AttributeValue, name string) (string, error) {
	v, ok := item[name]
	if !ok {
		return "", fmt.Errorf("dynamo: missing attribute %q", name)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamo: attribute %q is not a string", name)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, name string) (int64, error) {
	v, ok := item[name]
	if !ok {
		return 0, fmt.Errorf("dynamo: missing attribute %q", name)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamo: attribute %q is not a number", name)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamo: parse attribute %q: %w", name, err)
	}
	return parsed, nil
}
