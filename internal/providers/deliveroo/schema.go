package deliveroo

import "orderhub/internal/providers/payload"

const moneySchema = `{"type": "object", "required": ["fractional"], "properties": {"fractional": {"type": "integer"}}}`

var orderSchema = payload.MustSchema(`{
  "type": "object",
  "required": ["event", "body"],
  "properties": {
    "event": {"type": "string"},
    "body": {
      "type": "object",
      "required": ["order"],
      "properties": {
        "order": {
          "type": "object",
          "required": ["id", "items", "subtotal", "total_price"],
          "properties": {
            "id": {"type": "string", "minLength": 1},
            "location_id": {"type": "string"},
            "status": {"type": "string"},
            "fulfillment_type": {"type": "string"},
            "customer": {"type": "object"},
            "items": {
              "type": "array",
              "items": {
                "type": "object",
                "required": ["name", "quantity", "unit_price"],
                "properties": {
                  "name": {"type": "string"},
                  "quantity": {"type": "integer"},
                  "unit_price": ` + moneySchema + `
                }
              }
            },
            "subtotal": ` + moneySchema + `,
            "total_price": ` + moneySchema + `
          }
        }
      }
    }
  }
}`)

var statusSchema = payload.MustSchema(`{
  "type": "object",
  "required": ["body"],
  "properties": {
    "body": {
      "type": "object",
      "required": ["order"],
      "properties": {
        "order": {
          "type": "object",
          "required": ["id", "status"],
          "properties": {
            "id": {"type": "string", "minLength": 1},
            "status": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`)
