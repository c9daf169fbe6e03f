package database

import "go.mongodb.org/mongo-driver/mongo"

// Table 模型通过 GetTableName 声明自己的表名/集合名
type Table interface {
	GetTableName() string
}

func Collection(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
