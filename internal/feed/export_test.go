package feed

// NewKafkaSourceWithGroup builds a Kafka source around an existing group
var NewKafkaSourceWithGroup = newKafkaSource
