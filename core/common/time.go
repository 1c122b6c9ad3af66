package common

/*Timestamp - just a wrapper to control the json encoding */
type Timestamp int64
