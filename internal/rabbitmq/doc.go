// Package rabbitmq wraps the AMQP client with the pieces the job
// transport needs: a self-healing connection, a confirming publisher,
// and a consumer with manual acknowledgements.
package rabbitmq
