package jahez

import "orderhub/internal/providers/payload"

var orderSchema = payload.MustSchema(`{
  "type": "object",
  "required": ["jahez_id", "items", "sub_total", "final_price"],
  "properties": {
    "jahez_id": {"type": "integer", "minimum": 1},
    "branch_id": {"type": "string"},
    "status": {"type": "string"},
    "customer_name": {"type": "string"},
    "customer_phone": {"type": "string"},
    "delivery_type": {"type": "string", "enum": ["delivery", "pickup"]},
    "address": {"type": "object"},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "quantity", "price"],
        "properties": {
          "name": {"type": "string"},
          "quantity": {"type": "integer"},
          "price": {"type": "number"}
        }
      }
    },
    "sub_total": {"type": "number"},
    "delivery_fee": {"type": "number"},
    "vat": {"type": "number"},
    "discount": {"type": "number"},
    "final_price": {"type": "number"}
  }
}`)

var statusSchema = payload.MustSchema(`{
  "type": "object",
  "required": ["jahez_id", "status"],
  "properties": {
    "jahez_id": {"type": "integer", "minimum": 1},
    "status": {"type": "string", "minLength": 1},
    "driver_lat": {"type": "number"},
    "driver_lng": {"type": "number"}
  }
}`)
