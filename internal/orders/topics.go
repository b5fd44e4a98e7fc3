package orders

import "strconv"

const (
	TopicOrderCreated      = "order.created"
	TopicProductOutOfStock = "product.out_of_stock"
)

// PartitionKey keeps every event about one entity on one partition.
func PartitionKey(id int64) []byte { return []byte(strconv.FormatInt(id, 10)) }
