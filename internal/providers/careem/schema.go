package careem

import "orderhub/internal/providers/payload"

var orderSchema = payload.MustSchema(`{
  "type": "object",
  "required": ["order_id", "customer", "items", "totals"],
  "properties": {
    "order_id": {"type": "string", "minLength": 1},
    "branch_id": {"type": "string"},
    "status": {"type": "string"},
    "customer": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string"},
        "phone": {"type": "string"},
        "email": {"type": "string"},
        "address": {"type": "object"}
      }
    },
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "quantity", "unit_price"],
        "properties": {
          "name": {"type": "string"},
          "quantity": {"type": "integer"},
          "unit_price": {"type": "number"}
        }
      }
    },
    "delivery": {"type": "object"},
    "payment": {"type": "object"},
    "totals": {
      "type": "object",
      "required": ["subtotal", "total"],
      "properties": {
        "subtotal": {"type": "number"},
        "delivery_fee": {"type": "number"},
        "tax": {"type": "number"},
        "discount": {"type": "number"},
        "total": {"type": "number"}
      }
    }
  }
}`)

var statusSchema = payload.MustSchema(`{
  "type": "object",
  "required": ["order_id", "status"],
  "properties": {
    "order_id": {"type": "string", "minLength": 1},
    "status": {"type": "string", "minLength": 1},
    "updated_at": {"type": "string"},
    "location": {
      "type": "object",
      "properties": {"latitude": {"type": "number"}, "longitude": {"type": "number"}}
    }
  }
}`)
