// Package work defines the contract every work function (image compression,
// mail dispatch) implements, along with the kind registry the worker pool
// uses to resolve a work item to its function.
package work
